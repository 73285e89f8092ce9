package places

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dinder/session-server-go/internal/geo"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/util"
)

// FixtureSearcher serves places from a static list. It backs local
// development and tests.
type FixtureSearcher struct {
	records []Record
}

func NewFixtureSearcher(records []Record) *FixtureSearcher {
	return &FixtureSearcher{records: records}
}

// LoadFixture reads records from a .json, .yaml or .yml file.
func LoadFixture(path string) (*FixtureSearcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read places fixture: %w", err)
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &records)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		return nil, fmt.Errorf("unsupported places fixture format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse places fixture %s: %w", path, err)
	}
	return NewFixtureSearcher(records), nil
}

// Search returns fixture records within the radius whose categories or name
// match the term. Records without coordinates are always in range.
func (f *FixtureSearcher) Search(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Record
	for _, r := range f.records {
		if r.Lat != nil && r.Lng != nil && q.RadiusMeters > 0 {
			meters := geo.MilesToMeters(geo.Miles(q.Location, model.LatLng{Lat: *r.Lat, Lng: *r.Lng}))
			if meters > q.RadiusMeters {
				continue
			}
		}
		if !matchesTerm(r, q.Term) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func matchesTerm(r Record, term string) bool {
	term = util.FoldKey(term)
	if term == "" || genericCategories[term] {
		return true
	}
	if strings.Contains(util.FoldKey(r.Name), term) {
		return true
	}
	for _, c := range r.Categories {
		if strings.Contains(util.FoldKey(c), term) {
			return true
		}
	}
	return false
}
