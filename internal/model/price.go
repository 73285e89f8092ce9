package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinPriceTier = 1
	MaxPriceTier = 4
)

// PriceBand is an inclusive range of price tiers.
type PriceBand struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (b PriceBand) Valid() bool {
	return b.Min >= MinPriceTier && b.Max <= MaxPriceTier && b.Min <= b.Max
}

func (b PriceBand) Contains(tier int) bool {
	return tier >= b.Min && tier <= b.Max
}

func (b PriceBand) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{b.Min, b.Max})
}

// UnmarshalJSON accepts [1,3], ["$","$$$"], a single level (2 or "$$") and
// {"min":1,"max":3}.
func (b *PriceBand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty price band")
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) != 2 {
			return fmt.Errorf("price band needs exactly two bounds, got %d", len(raw))
		}
		lo, err := priceBound(raw[0])
		if err != nil {
			return err
		}
		hi, err := priceBound(raw[1])
		if err != nil {
			return err
		}
		*b = PriceBand{Min: lo, Max: hi}
	case '{':
		type plain PriceBand
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*b = PriceBand(p)
	default:
		tier, err := priceBound(data)
		if err != nil {
			return err
		}
		*b = PriceBand{Min: tier, Max: tier}
	}
	return nil
}

func priceBound(data json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, fmt.Errorf("invalid price bound %s", data)
	}
	tier := ParsePriceTier(s)
	if tier == 0 {
		return 0, fmt.Errorf("invalid price bound %q", s)
	}
	return tier, nil
}

var priceRangePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[-–~]\s*\$?\s*(\d+(?:\.\d+)?)`)

// ParsePriceTier normalises a provider price representation to 1..4.
// Unrecognised input yields 0, meaning unknown.
func ParsePriceTier(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	if n, err := strconv.Atoi(s); err == nil {
		return clampTier(n)
	}

	if m := priceRangePattern.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return tierForAmount((lo + hi) / 2)
	}

	if n := strings.Count(s, "$"); n > 0 && n == utf8.RuneCountInString(s) {
		return clampTier(n)
	}
	if n := strings.Count(s, "💰"); n > 0 && n == utf8.RuneCountInString(s) {
		return clampTier(n)
	}

	switch strings.ToUpper(s) {
	case "PRICE_LEVEL_INEXPENSIVE":
		return 1
	case "PRICE_LEVEL_MODERATE":
		return 2
	case "PRICE_LEVEL_EXPENSIVE":
		return 3
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return 4
	}
	return 0
}

func tierForAmount(avg float64) int {
	switch {
	case avg <= 15:
		return 1
	case avg <= 30:
		return 2
	case avg <= 60:
		return 3
	default:
		return 4
	}
}

func clampTier(n int) int {
	if n < MinPriceTier || n > MaxPriceTier {
		return 0
	}
	return n
}

var ratingPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseRating extracts the first number from text such as "4.5 (120 reviews)".
func ParseRating(raw string) *float64 {
	m := ratingPattern.FindString(raw)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}
