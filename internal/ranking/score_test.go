package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinder/session-server-go/internal/geo"
	"github.com/dinder/session-server-go/internal/model"
)

var ref = model.LatLng{Lat: 37.7749, Lng: -122.4194}

func rating(v float64) *float64 { return &v }

func basePrefs() model.Preferences {
	return model.Preferences{
		Cuisines:    model.Prefer([]string{"Thai"}),
		Price:       model.Prefer(model.PriceBand{Min: 2, Max: 3}),
		MinRating:   model.Prefer(4.0),
		MaxDistance: model.Prefer(2000.0),
		Location:    &ref,
	}
}

func candidate(id string, tier int, r *float64, loc *model.LatLng, cuisines ...string) model.Candidate {
	return model.Candidate{ID: id, Name: "Place " + id, PriceTier: tier, Rating: r, Location: loc, Cuisines: cuisines}
}

func TestScoreOne(t *testing.T) {
	here := ref

	tests := []struct {
		name string
		c    model.Candidate
		edit func(p *model.Preferences)
		want float64
	}{
		{"perfect match", candidate("a", 2, rating(4.5), &here, "thai"), nil, 4 + 3 + 2 + 0.25},
		{"price one tier above band", candidate("b", 4, rating(4.5), &here, "Thai"), nil, 4*(2.0/3) + 3 + 2 + 0.25},
		{"unknown price tier", candidate("c", 0, rating(4.5), &here, "Thai"), nil, 0 + 3 + 2 + 0.25},
		{"rating below floor", candidate("d", 2, rating(3.0), &here, "Thai"), nil, 4 + 3 + 2 + 0},
		{"rating bonus capped", candidate("e", 2, rating(5.0), &here, "Thai"), func(p *model.Preferences) { p.MinRating = model.Prefer(1.0) }, 4 + 3 + 2 + 1},
		{"missing rating", candidate("f", 2, nil, &here, "Thai"), nil, 4 + 3 + 2 + 0},
		{"no cuisine tags", candidate("g", 2, rating(4.5), &here), nil, 4 + 3 + 0 + 0.25},
		{"partial cuisine match", candidate("h", 2, rating(4.5), &here, " SUSHI "), func(p *model.Preferences) {
			p.Cuisines = model.Prefer([]string{"Thai", "Sushi"})
		}, 4 + 3 + 1 + 0.25},
		{"unknown location", candidate("i", 2, rating(4.5), nil, "Thai"), nil, 4 + 0 + 2 + 0.25},
		{"no preference everywhere", candidate("j", 0, nil, &here), func(p *model.Preferences) {
			p.Cuisines = model.NoPreference[[]string]()
			p.Price = model.NoPreference[model.PriceBand]()
			p.MinRating = model.NoPreference[float64]()
			p.MaxDistance = model.NoPreference[float64]()
		}, MaxScore},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := basePrefs()
			if tc.edit != nil {
				tc.edit(&p)
			}
			score, err := ScoreOne(tc.c, p, ref)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, score, 1e-9)
		})
	}

	t.Run("incomplete preferences fail", func(t *testing.T) {
		p := basePrefs()
		p.Price = model.Pref[model.PriceBand]{}
		_, err := ScoreOne(candidate("x", 2, nil, nil), p, ref)
		assert.ErrorContains(t, err, "missing price")
	})
}

func TestDistanceScoreBoundary(t *testing.T) {
	loc := model.LatLng{Lat: 37.7849, Lng: -122.4194}
	c := candidate("edge", 2, nil, &loc)

	p := basePrefs()
	p.MaxDistance = model.Prefer(geo.MilesToMeters(geo.Miles(ref, loc)))
	assert.Equal(t, 0.0, distanceScore(c, p, ref))

	p.MaxDistance = model.Prefer(10.0)
	assert.Equal(t, 0.0, distanceScore(c, p, ref))

	p.MaxDistance = model.Prefer(2 * geo.MilesToMeters(geo.Miles(ref, loc)))
	assert.InDelta(t, 1.5, distanceScore(c, p, ref), 1e-9)
}

func TestRankAll(t *testing.T) {
	here := ref

	t.Run("sorts by averaged score and rounds to two decimals", func(t *testing.T) {
		ranked, err := RankAll([]model.Candidate{
			candidate("pricey", 4, rating(4.5), &here, "Thai"),
			candidate("best", 2, rating(4.5), &here, "Thai"),
		}, []model.Preferences{basePrefs(), basePrefs()}, ref)
		require.NoError(t, err)
		require.Len(t, ranked, 2)

		assert.Equal(t, "best", ranked[0].ID)
		assert.Equal(t, 9.25, ranked[0].Score)
		assert.Equal(t, "pricey", ranked[1].ID)
		assert.Equal(t, 7.92, ranked[1].Score)
		assert.Equal(t, "0.0", ranked[0].Distance)
	})

	t.Run("averages rather than sums", func(t *testing.T) {
		open := func(lo, hi int) model.Preferences {
			return model.Preferences{
				Cuisines:    model.NoPreference[[]string](),
				Price:       model.Prefer(model.PriceBand{Min: lo, Max: hi}),
				MinRating:   model.NoPreference[float64](),
				MaxDistance: model.NoPreference[float64](),
			}
		}

		ranked, err := RankAll([]model.Candidate{candidate("a", 4, nil, &here)},
			[]model.Preferences{open(1, 1), open(4, 4)}, ref)
		require.NoError(t, err)
		assert.Equal(t, 8.0, ranked[0].Score)
	})

	t.Run("ties keep discovery order", func(t *testing.T) {
		ranked, err := RankAll([]model.Candidate{
			candidate("first", 2, rating(4.5), &here, "Thai"),
			candidate("second", 2, rating(4.5), &here, "Thai"),
			candidate("third", 2, rating(4.5), &here, "Thai"),
		}, []model.Preferences{basePrefs()}, ref)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, ids(ranked))
	})

	t.Run("unknown location is kept and labelled", func(t *testing.T) {
		ranked, err := RankAll([]model.Candidate{candidate("nowhere", 2, rating(4.5), nil, "Thai")},
			[]model.Preferences{basePrefs()}, ref)
		require.NoError(t, err)
		require.Len(t, ranked, 1)
		assert.Equal(t, model.UnknownDistance, ranked[0].Distance)
		assert.Nil(t, ranked[0].DistanceMiles)
	})

	t.Run("requires at least one preference set", func(t *testing.T) {
		_, err := RankAll([]model.Candidate{candidate("a", 2, nil, nil)}, nil, ref)
		assert.Error(t, err)
	})
}

func TestRankAllOrderIndependence(t *testing.T) {
	here := ref
	far := model.LatLng{Lat: 37.79, Lng: -122.40}
	candidates := []model.Candidate{
		candidate("a", 1, rating(3.9), &far, "Tacos"),
		candidate("b", 3, rating(4.7), &here, "Sushi", "Thai"),
		candidate("c", 0, nil, nil),
	}

	p1 := basePrefs()
	p2 := basePrefs()
	p2.Price = model.Prefer(model.PriceBand{Min: 1, Max: 1})
	p2.Cuisines = model.Prefer([]string{"Tacos", "Sushi"})
	p3 := basePrefs()
	p3.MinRating = model.NoPreference[float64]()
	p3.MaxDistance = model.Prefer(5000.0)

	baseline, err := RankAll(candidates, []model.Preferences{p1, p2, p3}, ref)
	require.NoError(t, err)

	perms := [][]model.Preferences{
		{p1, p3, p2},
		{p2, p1, p3},
		{p2, p3, p1},
		{p3, p1, p2},
		{p3, p2, p1},
	}
	for _, perm := range perms {
		got, err := RankAll(candidates, perm, ref)
		require.NoError(t, err)
		assert.Equal(t, baseline, got)
	}
}

func TestDedupe(t *testing.T) {
	in := []model.Candidate{
		{ID: "1", Name: "Thai Basil"},
		{ID: "1", Name: "Thai Basil Again"},
		{ID: "2", Name: "thai basil "},
		{ID: "3", Name: "Sushi Go"},
		{ID: "", Name: ""},
		{ID: "", Name: ""},
	}
	out := Dedupe(in)
	assert.Equal(t, []string{"1", "3", "", ""}, func() []string {
		var s []string
		for _, c := range out {
			s = append(s, c.ID)
		}
		return s
	}())
}

func ids(ranked []model.RankedCandidate) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.ID
	}
	return out
}
