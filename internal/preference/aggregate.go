package preference

import (
	"fmt"
	"math"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/util"
)

const maxRating = 5.0

// Validate checks one submission. Every dimension must be present, either as
// a value or as "no preference", and concrete values must be in range.
func Validate(participantID string, p model.Preferences) error {
	if field := p.MissingField(); field != "" {
		return apperrors.MalformedPreferences(participantID, field)
	}

	if band, ok := p.Price.Get(); ok && !band.Valid() {
		return apperrors.InvalidInput("price", fmt.Sprintf("price band must satisfy 1 <= min <= max <= 4, got [%d,%d]", band.Min, band.Max))
	}
	if r, ok := p.MinRating.Get(); ok && (r < 0 || r > maxRating || math.IsNaN(r)) {
		return apperrors.InvalidInput("minRating", "rating must be between 0 and 5")
	}
	if d, ok := p.MaxDistance.Get(); ok && (d <= 0 || math.IsNaN(d) || math.IsInf(d, 0)) {
		return apperrors.InvalidInput("maxDistance", "distance must be a positive number of meters")
	}
	if loc := p.Location; loc != nil && (loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180) {
		return apperrors.InvalidInput("location", "coordinates out of range")
	}
	return nil
}

// Aggregate merges the preference sets into one search envelope. Each
// dimension is aggregated over the participants that expressed a value for
// it; a dimension nobody constrained stays nil.
func Aggregate(list []model.ParticipantPreferences) (*model.Envelope, error) {
	if len(list) == 0 {
		return nil, apperrors.EmptyPreferenceSet()
	}

	for _, pp := range list {
		if err := Validate(pp.ParticipantID, pp.Preferences); err != nil {
			return nil, err
		}
	}

	env := &model.Envelope{}
	found := false
	for _, pp := range list {
		if pp.Preferences.Complete() {
			env.Location = *pp.Preferences.Location
			env.ReferenceParticipantID = pp.ParticipantID
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.NoReferenceLocation()
	}

	var cuisines []string
	for _, pp := range list {
		p := pp.Preferences

		if band, ok := p.Price.Get(); ok {
			if env.Price == nil {
				b := band
				env.Price = &b
			} else {
				env.Price.Min = min(env.Price.Min, band.Min)
				env.Price.Max = max(env.Price.Max, band.Max)
			}
		}

		if d, ok := p.MaxDistance.Get(); ok {
			if env.RadiusMeters == nil || d > *env.RadiusMeters {
				v := d
				env.RadiusMeters = &v
			}
		}

		if r, ok := p.MinRating.Get(); ok {
			if env.MinRating == nil || r < *env.MinRating {
				v := r
				env.MinRating = &v
			}
		}

		cuisines = append(cuisines, p.CuisineList()...)
	}

	if len(cuisines) > 0 {
		env.Cuisines = util.UniqueFolded(cuisines)
	}

	return env, nil
}
