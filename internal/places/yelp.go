package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	YelpBaseURL       = "https://api.yelp.com/v3"
	yelpMaxRadiusM    = 40000
	yelpResultsLimit  = 50
	yelpAuthorization = "Authorization"
)

// YelpClient searches the Yelp Fusion business search API.
type YelpClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewYelpClient(apiKey, baseURL string, httpClient *http.Client) *YelpClient {
	if baseURL == "" {
		baseURL = YelpBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &YelpClient{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

type yelpResponse struct {
	Businesses []yelpBusiness `json:"businesses"`
	Error      *struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type yelpBusiness struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Rating      *float64 `json:"rating"`
	Price       string   `json:"price"`
	ImageURL    string   `json:"image_url"`
	IsClosed    bool     `json:"is_closed"`
	Coordinates struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"coordinates"`
	Location struct {
		DisplayAddress []string `json:"display_address"`
	} `json:"location"`
	Categories []struct {
		Alias string `json:"alias"`
		Title string `json:"title"`
	} `json:"categories"`
}

func (c *YelpClient) Search(ctx context.Context, q Query) ([]Record, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Location.Lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(q.Location.Lng, 'f', -1, 64))
	params.Set("radius", strconv.Itoa(int(min(q.RadiusMeters, yelpMaxRadiusM))))
	params.Set("categories", "restaurants")
	params.Set("term", q.Term)
	params.Set("limit", strconv.Itoa(yelpResultsLimit))
	params.Set("sort_by", "distance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/businesses/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build yelp request: %w", err)
	}
	req.Header.Set(yelpAuthorization, "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yelp request: %w", err)
	}
	defer resp.Body.Close()

	var body yelpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode yelp response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error != nil {
			return nil, fmt.Errorf("yelp: %s: %s", body.Error.Code, body.Error.Description)
		}
		return nil, fmt.Errorf("yelp: unexpected status %d", resp.StatusCode)
	}

	records := make([]Record, 0, len(body.Businesses))
	for _, b := range body.Businesses {
		records = append(records, toYelpRecord(b))
	}
	return records, nil
}

func toYelpRecord(b yelpBusiness) Record {
	r := Record{
		ID:         b.ID,
		Name:       b.Name,
		Price:      b.Price,
		Address:    strings.Join(b.Location.DisplayAddress, ", "),
		Lat:        b.Coordinates.Latitude,
		Lng:        b.Coordinates.Longitude,
		OpenStatus: "Open",
	}
	if b.IsClosed {
		r.OpenStatus = "Closed"
	}
	if b.Rating != nil {
		r.Rating = strconv.FormatFloat(*b.Rating, 'f', -1, 64)
	}
	if b.ImageURL != "" {
		r.Photos = []string{b.ImageURL}
	}
	for _, cat := range b.Categories {
		r.Categories = append(r.Categories, cat.Title)
	}
	return r
}
