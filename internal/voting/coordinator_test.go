package voting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/store"
)

const code = "AB12"

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ string, e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func fullPrefs() model.Preferences {
	return model.Preferences{
		Cuisines:    model.Prefer([]string{"Thai"}),
		Price:       model.Prefer(model.PriceBand{Min: 1, Max: 4}),
		MinRating:   model.Prefer(3.0),
		MaxDistance: model.Prefer(5000.0),
		Location:    &model.LatLng{Lat: 37.7749, Lng: -122.4194},
	}
}

func ranked(ids ...string) []model.RankedCandidate {
	out := make([]model.RankedCandidate, len(ids))
	for i, id := range ids {
		out[i] = model.RankedCandidate{Candidate: model.Candidate{ID: id, Name: "Place " + id}, Score: float64(10 - i)}
	}
	return out
}

type fixture struct {
	ctx   context.Context
	store *store.Store
	rec   *recorder
	c     *Coordinator
	pids  []string
}

func newFixture(t *testing.T, participants int) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: store.New(nil), rec: &recorder{}}
	f.c = NewCoordinator(f.store, f.rec, nil, 2)

	_, err := f.store.Create(f.ctx, "p0", code)
	require.NoError(t, err)
	for i := 0; i < participants; i++ {
		pid := fmt.Sprintf("p%d", i)
		f.pids = append(f.pids, pid)
		_, err := f.store.AddParticipant(f.ctx, code, model.Participant{ID: pid, Name: pid, IsHost: i == 0, Present: true})
		require.NoError(t, err)
	}
	return f
}

// voting brings the fixture to the voting phase with the given candidates.
func (f *fixture) voting(t *testing.T, candidateIDs ...string) {
	t.Helper()
	var job *SearchJob
	for _, pid := range f.pids {
		j, err := f.c.SubmitPreferences(f.ctx, code, pid, fullPrefs())
		require.NoError(t, err)
		if j != nil {
			job = j
			break
		}
	}
	require.NotNil(t, job)
	require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation, ranked(candidateIDs...)))
	f.rec.reset()
}

func (f *fixture) vote(t *testing.T, pid, cid string, yes bool) {
	t.Helper()
	require.NoError(t, f.c.CastVote(f.ctx, code, pid, cid, yes))
}

func (f *fixture) session(t *testing.T) *model.Session {
	t.Helper()
	s, err := f.store.Get(code)
	require.NoError(t, err)
	return s
}

func TestSubmitPreferencesAutoStart(t *testing.T) {
	f := newFixture(t, 3)

	job, err := f.c.SubmitPreferences(f.ctx, code, "p0", fullPrefs())
	require.NoError(t, err)
	assert.Nil(t, job)

	assert.Equal(t, model.PhaseCollectingPreferences, f.session(t).Phase)

	job, err = f.c.SubmitPreferences(f.ctx, code, "p1", fullPrefs())
	require.NoError(t, err)
	require.NotNil(t, job, "two submissions meet the quorum")
	assert.Equal(t, 1, job.Generation)
	assert.Len(t, job.Preferences, 2)
	assert.Equal(t, []string{"Thai"}, job.Envelope.Cuisines)

	s := f.session(t)
	assert.Equal(t, model.PhaseSearching, s.Phase)
	assert.Equal(t, model.SessionStatusActive, s.Status)
	assert.Equal(t, []string{"p0", "p1", "p2"}, s.Roster, "silent participants still vote")
	assert.Equal(t, 1, f.rec.count(event.TypeSearchStarted))

	t.Run("preferences are closed after start", func(t *testing.T) {
		_, err := f.c.SubmitPreferences(f.ctx, code, "p2", fullPrefs())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})
}

func TestSubmitPreferencesRespectsMinimumQuorum(t *testing.T) {
	f := newFixture(t, 1)

	job, err := f.c.SubmitPreferences(f.ctx, code, "p0", fullPrefs())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, model.PhaseCollectingPreferences, f.session(t).Phase)
}

func TestSubmitPreferencesValidation(t *testing.T) {
	f := newFixture(t, 2)

	broken := fullPrefs()
	broken.MinRating = model.Pref[float64]{}
	_, err := f.c.SubmitPreferences(f.ctx, code, "p1", broken)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedPreferences))
	assert.False(t, f.session(t).Participants[1].HasPreferences())

	_, err = f.c.SubmitPreferences(f.ctx, code, "ghost", fullPrefs())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestStartSearch(t *testing.T) {
	t.Run("host can start early", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.c.SubmitPreferences(f.ctx, code, "p1", fullPrefs())
		require.NoError(t, err)

		job, err := f.c.StartSearch(f.ctx, code, "p0")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Len(t, job.Preferences, 1)
		assert.Equal(t, "p1", job.Envelope.ReferenceParticipantID)
		assert.Equal(t, []string{"p0", "p1", "p2"}, f.session(t).Roster)
	})

	t.Run("only the host", func(t *testing.T) {
		f := newFixture(t, 2)
		_, err := f.c.StartSearch(f.ctx, code, "p1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("needs at least one preference set", func(t *testing.T) {
		f := newFixture(t, 2)
		_, err := f.c.StartSearch(f.ctx, code, "p0")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmptyPreferenceSet))
		assert.Equal(t, model.PhaseCollectingPreferences, f.session(t).Phase)
	})

	t.Run("needs a reference location", func(t *testing.T) {
		f := newFixture(t, 2)
		p := fullPrefs()
		p.Location = nil
		_, err := f.c.SubmitPreferences(f.ctx, code, "p1", p)
		require.NoError(t, err)

		_, err = f.c.StartSearch(f.ctx, code, "p0")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoReferenceLocation))
	})

	t.Run("cannot start twice", func(t *testing.T) {
		f := newFixture(t, 2)
		_, err := f.c.SubmitPreferences(f.ctx, code, "p1", fullPrefs())
		require.NoError(t, err)
		_, err = f.c.StartSearch(f.ctx, code, "p0")
		require.NoError(t, err)

		_, err = f.c.StartSearch(f.ctx, code, "p0")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})
}

func TestDeliverCandidates(t *testing.T) {
	start := func(t *testing.T) (*fixture, *SearchJob) {
		f := newFixture(t, 2)
		_, err := f.c.SubmitPreferences(f.ctx, code, "p0", fullPrefs())
		require.NoError(t, err)
		job, err := f.c.SubmitPreferences(f.ctx, code, "p1", fullPrefs())
		require.NoError(t, err)
		require.NotNil(t, job)
		f.rec.reset()
		return f, job
	}

	t.Run("moves to voting", func(t *testing.T) {
		f, job := start(t)
		require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation, ranked("c1", "c2")))

		s := f.session(t)
		assert.Equal(t, model.PhaseVoting, s.Phase)
		assert.Len(t, s.Candidates, 2)
		assert.Equal(t, []string{event.TypeCandidatesReady}, f.rec.types())
	})

	t.Run("zero candidates finish with no matches", func(t *testing.T) {
		f, job := start(t)
		require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation, nil))

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		assert.Equal(t, model.SessionStatusCompleted, s.Status)
		require.NotNil(t, s.Outcome)
		assert.Equal(t, model.OutcomeNoMatches, s.Outcome.Kind)
		assert.Empty(t, s.Outcome.Results)
		assert.Equal(t, []string{event.TypeResultsReady}, f.rec.types())
	})

	t.Run("stale generation is discarded", func(t *testing.T) {
		f, job := start(t)
		require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation+1, ranked("c1")))
		assert.Equal(t, model.PhaseSearching, f.session(t).Phase)
		assert.Empty(t, f.rec.types())
	})

	t.Run("result after completion is discarded", func(t *testing.T) {
		f, job := start(t)
		require.NoError(t, f.c.FailSearch(f.ctx, code, job.Generation, "timeout"))
		require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation, ranked("c1")))

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		assert.Empty(t, s.Candidates)
	})

	t.Run("search failure degrades to empty results", func(t *testing.T) {
		f, job := start(t)
		require.NoError(t, f.c.FailSearch(f.ctx, code, job.Generation, "place search timed out"))

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		assert.Equal(t, model.OutcomeSearchUnavailable, s.Outcome.Kind)
		assert.Equal(t, "place search timed out", s.Outcome.Reason)
	})
}

func TestUnanimousMatch(t *testing.T) {
	f := newFixture(t, 3)
	f.voting(t, "x", "y")

	f.vote(t, "p0", "x", true)
	f.vote(t, "p1", "x", true)
	assert.Equal(t, model.PhaseVoting, f.session(t).Phase)

	f.vote(t, "p2", "x", true)
	s := f.session(t)
	assert.Equal(t, model.PhaseMatched, s.Phase)
	assert.Equal(t, model.SessionStatusCompleted, s.Status)
	require.NotNil(t, s.Outcome.Match)
	assert.Equal(t, "x", s.Outcome.Match.ID)

	types := f.rec.types()
	assert.Equal(t, []string{event.TypeVoteTally, event.TypeVoteTally, event.TypeVoteTally, event.TypeMatchFound}, types)

	err := f.c.CastVote(f.ctx, code, "p0", "y", true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeVotingClosed))
	assert.Equal(t, 1, f.rec.count(event.TypeMatchFound))
}

func TestMajorityFallback(t *testing.T) {
	t.Run("single candidate clears threshold", func(t *testing.T) {
		f := newFixture(t, 4)
		f.voting(t, "c1", "c2", "c3", "c4", "c5")

		yes := map[string][]string{
			"c1": {"p0"},
			"c2": {"p0", "p1", "p2"},
			"c4": {"p3"},
		}
		castAll(t, f, yes)

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		require.NotNil(t, s.Outcome)
		assert.Equal(t, model.OutcomeMajority, s.Outcome.Kind)
		require.Len(t, s.Outcome.Results, 1)
		assert.Equal(t, "c2", s.Outcome.Results[0].Candidate.ID)
		assert.Equal(t, 3, s.Outcome.Results[0].YesVotes)
		assert.Equal(t, 1, f.rec.count(event.TypeResultsReady))
	})

	t.Run("ties both appear", func(t *testing.T) {
		f := newFixture(t, 4)
		f.voting(t, "c1", "c2", "c3", "c4", "c5")

		castAll(t, f, map[string][]string{
			"c2": {"p0", "p1", "p2"},
			"c4": {"p1", "p2", "p3"},
			"c5": {"p0"},
		})

		s := f.session(t)
		require.Len(t, s.Outcome.Results, 2)
		assert.Equal(t, "c2", s.Outcome.Results[0].Candidate.ID)
		assert.Equal(t, "c4", s.Outcome.Results[1].Candidate.ID)
	})

	t.Run("no consensus", func(t *testing.T) {
		f := newFixture(t, 4)
		f.voting(t, "c1", "c2")

		castAll(t, f, map[string][]string{"c1": {"p0"}})

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		assert.Equal(t, model.OutcomeNoConsensus, s.Outcome.Kind)
		assert.Empty(t, s.Outcome.Results)
	})

	t.Run("incomplete voting keeps the session open", func(t *testing.T) {
		f := newFixture(t, 2)
		f.voting(t, "c1", "c2")

		f.vote(t, "p0", "c1", false)
		f.vote(t, "p0", "c2", false)
		f.vote(t, "p1", "c1", false)
		assert.Equal(t, model.PhaseVoting, f.session(t).Phase)
	})
}

// castAll has every participant vote on every candidate, yes only where
// listed.
func castAll(t *testing.T, f *fixture, yes map[string][]string) {
	t.Helper()
	s := f.session(t)
	for _, pid := range f.pids {
		for _, cand := range s.Candidates {
			value := false
			for _, y := range yes[cand.ID] {
				if y == pid {
					value = true
				}
			}
			f.vote(t, pid, cand.ID, value)
		}
	}
}

func TestMajorityOutcome(t *testing.T) {
	s := model.NewSession(code, "p0", time.Now())
	s.Roster = []string{"p0", "p1", "p2", "p3"}
	for _, pid := range s.Roster {
		s.Participants = append(s.Participants, model.Participant{ID: pid, Present: true})
	}
	s.Candidates = ranked("a", "b", "c", "d", "e")
	yes := map[string]int{"a": 2, "b": 3, "c": 2, "d": 4, "e": 1}
	for cid, n := range yes {
		for i := 0; i < n; i++ {
			s.PutVote(model.Vote{ParticipantID: s.Roster[i], CandidateID: cid, Value: true})
		}
	}

	outcome := MajorityOutcome(s)
	require.Len(t, outcome.Results, MaxResults)
	assert.Equal(t, "d", outcome.Results[0].Candidate.ID)
	assert.Equal(t, "b", outcome.Results[1].Candidate.ID)
	assert.Equal(t, "a", outcome.Results[2].Candidate.ID, "equal counts keep rank order")
}

func TestVoteRejections(t *testing.T) {
	t.Run("before voting opens", func(t *testing.T) {
		f := newFixture(t, 2)
		err := f.c.CastVote(f.ctx, code, "p0", "c1", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeVotingClosed))
	})

	t.Run("unknown candidate", func(t *testing.T) {
		f := newFixture(t, 2)
		f.voting(t, "c1")
		err := f.c.CastVote(f.ctx, code, "p0", "zzz", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownCandidate))
		assert.Empty(t, f.rec.types())
	})

	t.Run("late joiner is not eligible", func(t *testing.T) {
		f := newFixture(t, 2)
		f.voting(t, "c1", "c2")
		_, err := f.store.AddParticipant(f.ctx, code, model.Participant{ID: "late", Name: "Late", Present: true})
		require.NoError(t, err)

		err = f.c.CastVote(f.ctx, code, "late", "c1", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotEligible))

		f.vote(t, "p0", "c1", true)
		f.vote(t, "p1", "c1", true)
		assert.Equal(t, model.PhaseMatched, f.session(t).Phase)
	})
}

func TestVoteOverwrite(t *testing.T) {
	f := newFixture(t, 3)
	f.voting(t, "c1", "c2")

	f.vote(t, "p0", "c1", true)
	f.vote(t, "p0", "c1", false)

	s := f.session(t)
	assert.Len(t, s.Votes, 1)
	assert.Equal(t, 0, s.YesCount("c1"))

	f.rec.mu.Lock()
	last := f.rec.events[len(f.rec.events)-1].(event.VoteTally)
	f.rec.mu.Unlock()
	assert.Equal(t, 0, last.YesCount)
	assert.Equal(t, 3, last.TotalParticipants)
}

func TestConcurrentVotesFireOneMatch(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, 5)
		f.voting(t, "x", "y")

		var wg sync.WaitGroup
		for _, pid := range f.pids {
			wg.Add(1)
			go func(pid string) {
				defer wg.Done()
				for i := 0; i < 3; i++ {
					_ = f.c.CastVote(f.ctx, code, pid, "x", true)
				}
			}(pid)
		}
		wg.Wait()

		assert.Equal(t, model.PhaseMatched, f.session(t).Phase)
		assert.Equal(t, 1, f.rec.count(event.TypeMatchFound))
		types := f.rec.types()
		assert.Equal(t, event.TypeMatchFound, types[len(types)-1])
	}
}

func TestLeave(t *testing.T) {
	t.Run("absent roster member no longer blocks a match", func(t *testing.T) {
		f := newFixture(t, 3)
		f.voting(t, "x")

		f.vote(t, "p0", "x", true)
		f.vote(t, "p1", "x", true)

		require.NoError(t, f.c.Leave(f.ctx, code, "p2"))

		s := f.session(t)
		assert.Equal(t, model.PhaseMatched, s.Phase)
		assert.Equal(t, []string{"p0", "p1", "p2"}, s.Roster)
		assert.Equal(t, []string{"p0", "p1"}, s.Voters())
		assert.False(t, s.Participants[2].Present)
		assert.Equal(t, []string{event.TypeVoteTally, event.TypeVoteTally, event.TypeParticipantLeft, event.TypeParticipantsUpdate, event.TypeMatchFound}, f.rec.types())
	})

	t.Run("reconnected roster member votes again", func(t *testing.T) {
		f := newFixture(t, 3)
		f.voting(t, "x")

		require.NoError(t, f.c.Leave(f.ctx, code, "p1"))
		err := f.c.CastVote(f.ctx, code, "p1", "x", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotEligible), "absent members cannot vote")

		_, err = f.store.AddParticipant(f.ctx, code, model.Participant{ID: "p1", Name: "p1", Present: true})
		require.NoError(t, err)

		f.vote(t, "p1", "x", false)
		f.vote(t, "p0", "x", true)
		f.vote(t, "p2", "x", true)
		assert.Equal(t, model.PhaseResultsReady, f.session(t).Phase, "everyone voted and p1 said no")
		assert.Equal(t, 0, f.rec.count(event.TypeMatchFound))
	})

	t.Run("leaving while collecting keeps collecting", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.c.SubmitPreferences(f.ctx, code, "p0", fullPrefs())
		require.NoError(t, err)

		require.NoError(t, f.c.Leave(f.ctx, code, "p2"))
		assert.Equal(t, model.PhaseCollectingPreferences, f.session(t).Phase)
	})

	t.Run("everyone leaving during search ends without consensus", func(t *testing.T) {
		f := newFixture(t, 2)
		_, err := f.c.SubmitPreferences(f.ctx, code, "p0", fullPrefs())
		require.NoError(t, err)
		job, err := f.c.SubmitPreferences(f.ctx, code, "p1", fullPrefs())
		require.NoError(t, err)
		require.NotNil(t, job)

		require.NoError(t, f.c.Leave(f.ctx, code, "p0"))
		require.NoError(t, f.c.Leave(f.ctx, code, "p1"))
		require.NoError(t, f.c.DeliverCandidates(f.ctx, code, job.Generation, ranked("c1")))

		s := f.session(t)
		assert.Equal(t, model.PhaseResultsReady, s.Phase)
		require.NotNil(t, s.Outcome)
		assert.Equal(t, model.OutcomeNoConsensus, s.Outcome.Kind)
		assert.Empty(t, s.Outcome.Results)
	})

	t.Run("participant stays in history", func(t *testing.T) {
		f := newFixture(t, 2)
		require.NoError(t, f.c.Leave(f.ctx, code, "p1"))
		assert.Len(t, f.session(t).Participants, 2)

		err := f.c.Leave(f.ctx, code, "ghost")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

type countingPersister struct {
	mu       sync.Mutex
	sessions int
	votes    []model.Vote
}

func (p *countingPersister) SaveSession(context.Context, *model.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions++
	return nil
}

func (p *countingPersister) SaveVotes(_ context.Context, _ *model.Session, votes []model.Vote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.votes = append(p.votes, votes...)
	return nil
}

func (p *countingPersister) ArchiveSession(context.Context, string) error { return nil }

func TestCastVotePersistsOnlyTheVote(t *testing.T) {
	p := &countingPersister{}
	f := &fixture{ctx: context.Background(), store: store.New(p), rec: &recorder{}}
	f.c = NewCoordinator(f.store, f.rec, nil, 2)
	_, err := f.store.Create(f.ctx, "p0", code)
	require.NoError(t, err)
	for _, pid := range []string{"p0", "p1"} {
		f.pids = append(f.pids, pid)
		_, err := f.store.AddParticipant(f.ctx, code, model.Participant{ID: pid, Name: pid, Present: true})
		require.NoError(t, err)
	}
	f.voting(t, "x")

	p.mu.Lock()
	before := p.sessions
	p.mu.Unlock()

	f.vote(t, "p0", "x", true)
	f.vote(t, "p1", "x", true)
	assert.Equal(t, model.PhaseMatched, f.session(t).Phase)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, before, p.sessions, "votes do not rewrite the whole session")
	require.Len(t, p.votes, 2)
	assert.Equal(t, "p1", p.votes[1].ParticipantID)
}
