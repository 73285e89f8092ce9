package model

// Candidate is a restaurant as fetched for one session. PriceTier 0 means the
// provider did not report a price.
type Candidate struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceTier  int      `json:"priceTier"`
	Rating     *float64 `json:"rating,omitempty"`
	Cuisines   []string `json:"cuisines,omitempty"`
	Location   *LatLng  `json:"location,omitempty"`
	Address    string   `json:"address,omitempty"`
	Photos     []string `json:"photos,omitempty"`
	OpenStatus string   `json:"openStatus,omitempty"`
	Accessible bool     `json:"accessible"`
}

// UnknownDistance is the display label for a candidate without coordinates.
const UnknownDistance = "Unknown"

type RankedCandidate struct {
	Candidate
	Score         float64  `json:"score"`
	DistanceMiles *float64 `json:"distanceMiles,omitempty"`
	Distance      string   `json:"distance"`
}

// ResultEntry is one majority-fallback result.
type ResultEntry struct {
	Candidate RankedCandidate `json:"candidate"`
	YesVotes  int             `json:"yesVotes"`
}

type Outcome struct {
	Kind    OutcomeKind      `json:"kind"`
	Match   *RankedCandidate `json:"match,omitempty"`
	Results []ResultEntry    `json:"results"`
	Reason  string           `json:"reason,omitempty"`
}
