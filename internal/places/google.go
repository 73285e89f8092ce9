package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	GoogleBaseURL      = "https://maps.googleapis.com/maps/api/place"
	googlePhotoWidth   = 400
	googleMaxRadiusM   = 50000
	defaultHTTPTimeout = 10 * time.Second
)

// GoogleClient searches the Places Nearby Search API.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewGoogleClient(apiKey, baseURL string, httpClient *http.Client) *GoogleClient {
	if baseURL == "" {
		baseURL = GoogleBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &GoogleClient{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

type googleResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Results      []googlePlace `json:"results"`
}

type googlePlace struct {
	PlaceID    string   `json:"place_id"`
	Name       string   `json:"name"`
	Rating     *float64 `json:"rating"`
	PriceLevel *int     `json:"price_level"`
	Vicinity   string   `json:"vicinity"`
	Types      []string `json:"types"`
	Geometry   struct {
		Location *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Photos []struct {
		PhotoReference string `json:"photo_reference"`
	} `json:"photos"`
	OpeningHours *struct {
		OpenNow *bool `json:"open_now"`
	} `json:"opening_hours"`
	WheelchairAccessibleEntrance *bool `json:"wheelchair_accessible_entrance"`
}

func (c *GoogleClient) Search(ctx context.Context, q Query) ([]Record, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", q.Location.Lat, q.Location.Lng))
	params.Set("radius", strconv.Itoa(int(min(q.RadiusMeters, googleMaxRadiusM))))
	params.Set("type", "restaurant")
	if q.Term != "" && q.Term != DefaultTerm {
		params.Set("keyword", q.Term)
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nearbysearch/json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build google request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google places request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google places: unexpected status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}

	switch body.Status {
	case "OK", "ZERO_RESULTS":
	default:
		return nil, fmt.Errorf("google places: %s %s", body.Status, body.ErrorMessage)
	}

	records := make([]Record, 0, len(body.Results))
	for _, p := range body.Results {
		records = append(records, c.toRecord(p))
	}
	return records, nil
}

func (c *GoogleClient) toRecord(p googlePlace) Record {
	r := Record{
		ID:         p.PlaceID,
		Name:       p.Name,
		Address:    p.Vicinity,
		Categories: p.Types,
		OpenStatus: "Hours not available",
	}
	if p.Rating != nil {
		r.Rating = strconv.FormatFloat(*p.Rating, 'f', -1, 64)
	}
	if p.PriceLevel != nil {
		r.Price = strconv.Itoa(*p.PriceLevel)
	}
	if loc := p.Geometry.Location; loc != nil {
		r.Lat = ptr(loc.Lat)
		r.Lng = ptr(loc.Lng)
	}
	for _, photo := range p.Photos {
		r.Photos = append(r.Photos, fmt.Sprintf("%s/photo?maxwidth=%d&photoreference=%s&key=%s",
			c.baseURL, googlePhotoWidth, url.QueryEscape(photo.PhotoReference), url.QueryEscape(c.apiKey)))
	}
	if p.OpeningHours != nil && p.OpeningHours.OpenNow != nil {
		if *p.OpeningHours.OpenNow {
			r.OpenStatus = "Open now"
		} else {
			r.OpenStatus = "Closed"
		}
	}
	if p.WheelchairAccessibleEntrance != nil {
		r.Accessible = *p.WheelchairAccessibleEntrance
	}
	return r
}
