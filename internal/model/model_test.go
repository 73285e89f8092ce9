package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefUnmarshal(t *testing.T) {
	t.Run("missing key stays unset", func(t *testing.T) {
		var p Preferences
		require.NoError(t, json.Unmarshal([]byte(`{"price":[1,2]}`), &p))
		assert.False(t, p.Cuisines.IsSet())
		assert.Equal(t, "cuisines", p.MissingField())
	})

	t.Run("null is treated as missing", func(t *testing.T) {
		var p Pref[float64]
		require.NoError(t, json.Unmarshal([]byte(`null`), &p))
		assert.False(t, p.IsSet())
	})

	t.Run("no preference string", func(t *testing.T) {
		var p Pref[float64]
		require.NoError(t, json.Unmarshal([]byte(`"No Preference"`), &p))
		assert.True(t, p.IsSet())
		assert.True(t, p.IsNoPreference())
		_, ok := p.Get()
		assert.False(t, ok)
	})

	t.Run("cuisine list containing no preference", func(t *testing.T) {
		var p Pref[[]string]
		require.NoError(t, json.Unmarshal([]byte(`["Thai","no preference"]`), &p))
		assert.True(t, p.IsNoPreference())
	})

	t.Run("concrete value", func(t *testing.T) {
		var p Pref[float64]
		require.NoError(t, json.Unmarshal([]byte(`4.2`), &p))
		v, ok := p.Get()
		assert.True(t, ok)
		assert.Equal(t, 4.2, v)
	})

	t.Run("wrong type fails", func(t *testing.T) {
		var p Pref[float64]
		assert.Error(t, json.Unmarshal([]byte(`"lots"`), &p))
	})
}

func TestPrefMarshalRoundTrip(t *testing.T) {
	in := Preferences{
		Cuisines:    Prefer([]string{"Thai"}),
		Price:       NoPreference[PriceBand](),
		MinRating:   Prefer(4.0),
		MaxDistance: Prefer(1500.0),
		Location:    &LatLng{Lat: 37.77, Lng: -122.41},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cuisines":["Thai"],"price":"no preference","minRating":4,"maxDistance":1500,"location":{"lat":37.77,"lng":-122.41}}`, string(data))

	var out Preferences
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Complete())
	assert.True(t, out.Price.IsNoPreference())
}

func TestCuisineList(t *testing.T) {
	p := Preferences{Cuisines: Prefer([]string{" Thai ", "", "  "})}
	assert.Equal(t, []string{"Thai"}, p.CuisineList())

	p.Cuisines = Prefer([]string{})
	assert.Nil(t, p.CuisineList())
}

func TestPriceBandUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  PriceBand
	}{
		{"numeric pair", `[1,3]`, PriceBand{Min: 1, Max: 3}},
		{"dollar pair", `["$","$$$"]`, PriceBand{Min: 1, Max: 3}},
		{"single level", `2`, PriceBand{Min: 2, Max: 2}},
		{"single dollar string", `"$$$$"`, PriceBand{Min: 4, Max: 4}},
		{"object form", `{"min":2,"max":4}`, PriceBand{Min: 2, Max: 4}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b PriceBand
			require.NoError(t, json.Unmarshal([]byte(tc.input), &b))
			assert.Equal(t, tc.want, b)
			assert.True(t, b.Valid())
		})
	}

	t.Run("rejects three bounds", func(t *testing.T) {
		var b PriceBand
		assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &b))
	})

	t.Run("invalid range", func(t *testing.T) {
		assert.False(t, PriceBand{Min: 3, Max: 1}.Valid())
		assert.False(t, PriceBand{Min: 0, Max: 2}.Valid())
	})
}

func TestParsePriceTier(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"2", 2},
		{"0", 0},
		{"7", 0},
		{"$", 1},
		{"$$$", 3},
		{"💰💰", 2},
		{"$11-30", 2},
		{"$10-15", 1},
		{"$31-60", 3},
		{"$61-100", 4},
		{"PRICE_LEVEL_EXPENSIVE", 3},
		{"cheap-ish", 0},
		{"", 0},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, ParsePriceTier(tc.input))
		})
	}
}

func TestParseRating(t *testing.T) {
	r := ParseRating("4.5 (120 reviews)")
	require.NotNil(t, r)
	assert.Equal(t, 4.5, *r)

	assert.Nil(t, ParseRating("No rating"))
	assert.Nil(t, ParseRating("12"))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, SessionStatusWaiting.CanTransitionTo(SessionStatusActive))
	assert.True(t, SessionStatusActive.CanTransitionTo(SessionStatusCompleted))
	assert.True(t, SessionStatusActive.CanTransitionTo(SessionStatusActive))
	assert.False(t, SessionStatusCompleted.CanTransitionTo(SessionStatusWaiting))
	assert.False(t, SessionStatusActive.CanTransitionTo("paused"))

	assert.Equal(t, SessionStatusWaiting, PhaseCollectingPreferences.Status())
	assert.Equal(t, SessionStatusActive, PhaseVoting.Status())
	assert.Equal(t, SessionStatusCompleted, PhaseResultsReady.Status())
	assert.True(t, PhaseMatched.Terminal())
	assert.False(t, PhaseSearching.Terminal())
}

func TestSessionCloneIsolation(t *testing.T) {
	s := NewSession("AB12", "host", time.Now())
	s.Participants = append(s.Participants, Participant{ID: "host", Name: "Ana", IsHost: true})
	s.Roster = []string{"host"}
	s.Votes[VoteKey{ParticipantID: "host", CandidateID: "c1"}] = Vote{ParticipantID: "host", CandidateID: "c1", Value: true}

	c := s.Clone()
	c.Participants[0].Name = "changed"
	c.Roster[0] = "other"
	delete(c.Votes, VoteKey{ParticipantID: "host", CandidateID: "c1"})

	assert.Equal(t, "Ana", s.Participants[0].Name)
	assert.Equal(t, "host", s.Roster[0])
	assert.Len(t, s.Votes, 1)
}

func TestSessionTallies(t *testing.T) {
	s := NewSession("AB12", "a", time.Now())
	s.Candidates = []RankedCandidate{{Candidate: Candidate{ID: "c1"}}, {Candidate: Candidate{ID: "c2"}}}
	s.Participants = []Participant{{ID: "a", Present: true}, {ID: "b", Present: true}, {ID: "late", Present: true}}
	s.Roster = []string{"a", "b"}
	s.Votes[VoteKey{"a", "c1"}] = Vote{ParticipantID: "a", CandidateID: "c1", Value: true}
	s.Votes[VoteKey{"b", "c1"}] = Vote{ParticipantID: "b", CandidateID: "c1", Value: false}
	s.Votes[VoteKey{"late", "c1"}] = Vote{ParticipantID: "late", CandidateID: "c1", Value: true}

	assert.Equal(t, 1, s.YesCount("c1"))
	assert.Equal(t, 1, s.VotesCast("a"))
	assert.Equal(t, 0, s.VotesCast("nobody"))

	snap := s.Snapshot()
	require.Len(t, snap.Tallies, 2)
	assert.Equal(t, Tally{CandidateID: "c1", YesCount: 1, TotalParticipants: 2}, snap.Tallies[0])

	t.Run("absent roster members drop out of the tally", func(t *testing.T) {
		s.Participants[0].Present = false
		assert.Equal(t, []string{"b"}, s.Voters())
		assert.Equal(t, 0, s.YesCount("c1"))
		assert.False(t, s.IsVoter("a"))
		assert.True(t, s.InRoster("a"))

		s.Participants[0].Present = true
		assert.Equal(t, []string{"a", "b"}, s.Voters())
		assert.Equal(t, 1, s.YesCount("c1"))
	})
}

func TestSessionSetPhase(t *testing.T) {
	s := NewSession("AB12", "a", time.Now())

	require.NoError(t, s.SetPhase(PhaseSearching))
	assert.Equal(t, SessionStatusActive, s.Status)

	require.NoError(t, s.SetPhase(PhaseMatched))
	assert.Equal(t, SessionStatusCompleted, s.Status)

	err := s.SetPhase(PhaseCollectingPreferences)
	assert.Error(t, err)
	assert.Equal(t, PhaseMatched, s.Phase)
}

func TestSessionPutVoteOverwrites(t *testing.T) {
	s := NewSession("AB12", "a", time.Now())
	s.PutVote(Vote{ParticipantID: "a", CandidateID: "c1", Value: true})
	s.PutVote(Vote{ParticipantID: "a", CandidateID: "c1", Value: false})

	assert.Len(t, s.Votes, 1)
	assert.False(t, s.Votes[VoteKey{"a", "c1"}].Value)
}
