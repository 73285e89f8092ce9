package ranking

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/geo"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/util"
)

// Sub-score weights. A sub-score ranges from 0 (no match) to its weight.
const (
	PriceWeight    = 4.0
	DistanceWeight = 3.0
	CuisineWeight  = 2.0
	RatingWeight   = 1.0

	MaxScore = PriceWeight + DistanceWeight + CuisineWeight + RatingWeight
)

const (
	// Tiers outside the band by this much or more score zero.
	priceFalloffTiers = 3.0

	// Rating points above the floor that earn the full rating bonus.
	ratingBonusCeiling = 2.0
)

// ScoreOne scores a candidate against one participant's preferences. Missing
// candidate data zeroes the affected sub-score instead of failing.
func ScoreOne(c model.Candidate, p model.Preferences, ref model.LatLng) (float64, error) {
	if field := p.MissingField(); field != "" {
		return 0, fmt.Errorf("score %s: incomplete preferences: missing %s", c.ID, field)
	}

	return priceScore(c, p) + distanceScore(c, p, ref) + cuisineScore(c, p) + ratingScore(c, p), nil
}

func priceScore(c model.Candidate, p model.Preferences) float64 {
	band, ok := p.Price.Get()
	if !ok {
		return PriceWeight
	}
	if c.PriceTier == 0 {
		return 0
	}
	if band.Contains(c.PriceTier) {
		return PriceWeight
	}

	var off int
	if c.PriceTier < band.Min {
		off = band.Min - c.PriceTier
	} else {
		off = c.PriceTier - band.Max
	}
	return PriceWeight * clamp01(1-float64(off)/priceFalloffTiers)
}

func distanceScore(c model.Candidate, p model.Preferences, ref model.LatLng) float64 {
	if c.Location == nil {
		return 0
	}
	maxMeters, ok := p.MaxDistance.Get()
	if !ok {
		return DistanceWeight
	}
	if maxMeters <= 0 {
		return 0
	}

	meters := geo.MilesToMeters(geo.Miles(ref, *c.Location))
	return DistanceWeight * (1 - math.Min(meters/maxMeters, 1))
}

func cuisineScore(c model.Candidate, p model.Preferences) float64 {
	wanted := p.CuisineList()
	if len(wanted) == 0 {
		return CuisineWeight
	}
	if len(c.Cuisines) == 0 {
		return 0
	}

	tags := make(map[string]struct{}, len(c.Cuisines))
	for _, tag := range c.Cuisines {
		tags[util.FoldKey(tag)] = struct{}{}
	}

	requested := util.UniqueFolded(wanted)
	matched := 0
	for _, w := range requested {
		if _, ok := tags[util.FoldKey(w)]; ok {
			matched++
		}
	}
	return CuisineWeight * float64(matched) / float64(len(requested))
}

func ratingScore(c model.Candidate, p model.Preferences) float64 {
	floor, ok := p.MinRating.Get()
	if !ok {
		return RatingWeight
	}
	if c.Rating == nil {
		return 0
	}
	return RatingWeight * clamp01((*c.Rating-floor)/ratingBonusCeiling)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// RankAll de-duplicates the candidates, scores each against every
// participant, and orders them by averaged score. Equal scores keep
// discovery order.
func RankAll(candidates []model.Candidate, prefs []model.Preferences, ref model.LatLng) ([]model.RankedCandidate, error) {
	if len(prefs) == 0 {
		return nil, apperrors.EmptyPreferenceSet()
	}

	unique := Dedupe(candidates)
	ranked := make([]model.RankedCandidate, 0, len(unique))
	scores := make([]float64, len(prefs))

	for _, c := range unique {
		for i, p := range prefs {
			s, err := ScoreOne(c, p, ref)
			if err != nil {
				return nil, err
			}
			scores[i] = s
		}

		rc := model.RankedCandidate{
			Candidate: c,
			Score:     round2(average(scores)),
			Distance:  model.UnknownDistance,
		}
		if c.Location != nil {
			miles := geo.Miles(ref, *c.Location)
			rc.DistanceMiles = &miles
			rc.Distance = fmt.Sprintf("%.1f", miles)
		}
		ranked = append(ranked, rc)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// average sums in sorted order so the result does not depend on the order
// participants were listed in.
func average(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Dedupe drops candidates whose external id or case-folded name was already
// seen, keeping the first occurrence.
func Dedupe(candidates []model.Candidate) []model.Candidate {
	ids := make(map[string]struct{}, len(candidates))
	names := make(map[string]struct{}, len(candidates))
	out := make([]model.Candidate, 0, len(candidates))

	for _, c := range candidates {
		name := util.FoldKey(c.Name)
		if _, dup := ids[c.ID]; dup && c.ID != "" {
			continue
		}
		if _, dup := names[name]; dup && name != "" {
			continue
		}
		if c.ID != "" {
			ids[c.ID] = struct{}{}
		}
		if name != "" {
			names[name] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}
