package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NoPreferenceText is the wire value a participant sends to opt out of a
// preference dimension.
const NoPreferenceText = "no preference"

// Pref holds one preference dimension. The zero value means the field was
// never supplied, which is distinct from an explicit "no preference".
type Pref[T any] struct {
	value        T
	set          bool
	noPreference bool
}

func Prefer[T any](v T) Pref[T] {
	return Pref[T]{value: v, set: true}
}

func NoPreference[T any]() Pref[T] {
	return Pref[T]{set: true, noPreference: true}
}

// IsSet reports whether the dimension was supplied at all.
func (p Pref[T]) IsSet() bool {
	return p.set
}

func (p Pref[T]) IsNoPreference() bool {
	return p.set && p.noPreference
}

// Get returns the concrete value; ok is false when the dimension is unset or
// marked "no preference".
func (p Pref[T]) Get() (v T, ok bool) {
	if !p.set || p.noPreference {
		return v, false
	}
	return p.value, true
}

func (p Pref[T]) MarshalJSON() ([]byte, error) {
	switch {
	case !p.set:
		return []byte("null"), nil
	case p.noPreference:
		return json.Marshal(NoPreferenceText)
	default:
		return json.Marshal(p.value)
	}
}

func (p *Pref[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Pref[T]{}
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil && isNoPreference(text) {
		*p = NoPreference[T]()
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	if list, ok := any(v).([]string); ok {
		for _, item := range list {
			if isNoPreference(item) {
				*p = NoPreference[T]()
				return nil
			}
		}
	}

	*p = Prefer(v)
	return nil
}

func isNoPreference(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == NoPreferenceText || s == "any"
}

type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (l LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

// Preferences is one participant's dining preference set. MaxDistance is in
// meters.
type Preferences struct {
	Cuisines    Pref[[]string]  `json:"cuisines"`
	Price       Pref[PriceBand] `json:"price"`
	MinRating   Pref[float64]   `json:"minRating"`
	MaxDistance Pref[float64]   `json:"maxDistance"`
	Location    *LatLng         `json:"location,omitempty"`
}

// MissingField returns the first required dimension that was never supplied.
func (p Preferences) MissingField() string {
	switch {
	case !p.Cuisines.IsSet():
		return "cuisines"
	case !p.Price.IsSet():
		return "price"
	case !p.MinRating.IsSet():
		return "minRating"
	case !p.MaxDistance.IsSet():
		return "maxDistance"
	default:
		return ""
	}
}

// Complete reports whether every dimension and the home location are present.
func (p Preferences) Complete() bool {
	return p.MissingField() == "" && p.Location != nil
}

// CuisineList returns the trimmed, non-empty cuisines. A nil result means the
// participant is unconstrained on cuisine.
func (p Preferences) CuisineList() []string {
	raw, ok := p.Cuisines.Get()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParticipantPreferences pairs a submitted preference set with its owner.
type ParticipantPreferences struct {
	ParticipantID string
	Preferences   Preferences
}

// Envelope is the merged search constraint set. Nil fields are unconstrained.
type Envelope struct {
	Location               LatLng     `json:"location"`
	ReferenceParticipantID string     `json:"referenceParticipantId"`
	RadiusMeters           *float64   `json:"radiusMeters,omitempty"`
	Price                  *PriceBand `json:"price,omitempty"`
	MinRating              *float64   `json:"minRating,omitempty"`
	Cuisines               []string   `json:"cuisines,omitempty"`
}
