package places

import (
	"context"
	"strings"

	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/util"
)

// DefaultTerm is searched when the group expressed no cuisine.
const DefaultTerm = "restaurant"

// Query is a single-term place search.
type Query struct {
	Location     model.LatLng
	RadiusMeters float64
	Term         string
}

// Record is a raw place as reported by a provider, before normalisation.
type Record struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Price      string   `json:"price,omitempty" yaml:"price,omitempty"`
	Rating     string   `json:"rating,omitempty" yaml:"rating,omitempty"`
	Lat        *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty" yaml:"lng,omitempty"`
	Address    string   `json:"address,omitempty" yaml:"address,omitempty"`
	Photos     []string `json:"photos,omitempty" yaml:"photos,omitempty"`
	OpenStatus string   `json:"openStatus,omitempty" yaml:"openStatus,omitempty"`
	Accessible bool     `json:"accessible,omitempty" yaml:"accessible,omitempty"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Term       string   `json:"-" yaml:"-"`
}

// Searcher is the place-search collaborator. Implementations may return zero
// records.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, q Query) ([]Record, error)

func (f SearcherFunc) Search(ctx context.Context, q Query) ([]Record, error) {
	return f(ctx, q)
}

// Normalize converts raw records into candidates. Records without a name are
// dropped; unparseable price and rating become unknown.
func Normalize(records []Record) []model.Candidate {
	out := make([]model.Candidate, 0, len(records))
	for _, r := range records {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}

		c := model.Candidate{
			ID:         r.ID,
			Name:       name,
			PriceTier:  model.ParsePriceTier(r.Price),
			Rating:     model.ParseRating(r.Rating),
			Address:    r.Address,
			Photos:     r.Photos,
			OpenStatus: r.OpenStatus,
			Accessible: r.Accessible,
			Cuisines:   cuisineTags(r.Categories, r.Term),
		}
		if c.ID == "" {
			c.ID = util.FoldKey(name)
		}
		if r.Lat != nil && r.Lng != nil {
			c.Location = &model.LatLng{Lat: *r.Lat, Lng: *r.Lng}
		}
		out = append(out, c)
	}
	return out
}

// genericCategories never describe a cuisine.
var genericCategories = map[string]bool{
	"restaurant":        true,
	"restaurants":       true,
	"food":              true,
	"point_of_interest": true,
	"establishment":     true,
	"meal_takeaway":     true,
	"meal_delivery":     true,
	"store":             true,
}

// cuisineTags derives cuisine tags from provider categories plus the search
// term that found the place.
func cuisineTags(categories []string, term string) []string {
	var tags []string
	for _, c := range categories {
		tag := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(c)), "_restaurant")
		tag = strings.ReplaceAll(tag, "_", " ")
		if tag == "" || genericCategories[tag] {
			continue
		}
		tags = append(tags, tag)
	}
	if t := strings.TrimSpace(term); t != "" && !genericCategories[strings.ToLower(t)] {
		tags = append(tags, t)
	}
	return util.UniqueFolded(tags)
}

func ptr(v float64) *float64 {
	return &v
}
