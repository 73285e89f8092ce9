package geo

import (
	"math"

	"github.com/dinder/session-server-go/internal/model"
)

const (
	earthRadiusMiles = 3958.8
	MetersPerMile    = 1609.344
)

// Miles is the haversine great-circle distance between a and b.
func Miles(a, b model.LatLng) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

func MetersToMiles(m float64) float64 {
	return m / MetersPerMile
}

func MilesToMeters(mi float64) float64 {
	return mi * MetersPerMile
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
