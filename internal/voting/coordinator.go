package voting

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/audit"
	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/metrics"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/preference"
	"github.com/dinder/session-server-go/internal/store"
)

// MaxResults caps the majority fallback result set.
const MaxResults = 3

// Notifier receives session events. Publish must not block.
type Notifier interface {
	Publish(code string, e event.Event)
}

// SearchJob is everything the search pipeline needs, captured when the
// session enters the searching phase.
type SearchJob struct {
	Code        string
	Generation  int
	Envelope    model.Envelope
	Preferences []model.Preferences
}

// Coordinator drives the per-session state machine. Every transition runs
// inside the store's per-session critical section and its events are
// published before the lock is released, so observers see them in order.
type Coordinator struct {
	store     *store.Store
	notifier  Notifier
	metrics   *metrics.Metrics
	minQuorum int
}

func NewCoordinator(st *store.Store, notifier Notifier, m *metrics.Metrics, minQuorum int) *Coordinator {
	if minQuorum < 1 {
		minQuorum = 1
	}
	return &Coordinator{
		store:     st,
		notifier:  notifier,
		metrics:   m,
		minQuorum: minQuorum,
	}
}

// SubmitPreferences records a participant's preference set. Once the quorum
// of present participants has submitted, the session moves to searching and
// the returned job must be run.
func (c *Coordinator) SubmitPreferences(ctx context.Context, code, participantID string, prefs model.Preferences) (*SearchJob, error) {
	if err := preference.Validate(participantID, prefs); err != nil {
		return nil, err
	}

	var job *SearchJob
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		if s.Phase != model.PhaseCollectingPreferences {
			return apperrors.Conflict("Preferences are closed once the search has started")
		}
		i := s.Participant(participantID)
		if i < 0 {
			return apperrors.NotFound("Participant")
		}

		p := prefs
		s.Participants[i].Preferences = &p
		c.publishParticipants(tx)

		if !c.quorumReached(s) {
			return nil
		}
		var err error
		job, err = c.beginSearch(tx)
		if err != nil {
			// Quorum is met but the merged set is unusable; keep the
			// submission and wait for the host or more submissions.
			log.Warn().Err(err).Str("sessionCode", code).Msg("auto search start skipped")
			job = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StartSearch is the host's explicit collecting -> searching trigger.
func (c *Coordinator) StartSearch(ctx context.Context, code, requestedBy string) (*SearchJob, error) {
	var job *SearchJob
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		if s.HostID != requestedBy {
			return apperrors.Forbidden("Only the host can start the search")
		}
		if s.Phase != model.PhaseCollectingPreferences {
			return apperrors.Conflict("Search has already started")
		}
		var err error
		job, err = c.beginSearch(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Coordinator) quorumReached(s *model.Session) bool {
	submitted := 0
	for _, p := range s.PresentParticipants() {
		if p.HasPreferences() {
			submitted++
		}
	}
	return submitted >= c.minQuorum
}

func (c *Coordinator) beginSearch(tx *store.Tx) (*SearchJob, error) {
	s := tx.Session

	var list []model.ParticipantPreferences
	for _, p := range s.Participants {
		if p.Preferences != nil {
			list = append(list, model.ParticipantPreferences{ParticipantID: p.ID, Preferences: *p.Preferences})
		}
	}
	env, err := preference.Aggregate(list)
	if err != nil {
		return nil, err
	}

	if err := s.SetPhase(model.PhaseSearching); err != nil {
		return nil, err
	}
	s.Roster = s.Roster[:0]
	for _, p := range s.PresentParticipants() {
		s.Roster = append(s.Roster, p.ID)
	}
	s.SearchGeneration++

	prefs := make([]model.Preferences, len(list))
	for i, pp := range list {
		prefs[i] = pp.Preferences
	}
	job := &SearchJob{
		Code:        s.Code,
		Generation:  s.SearchGeneration,
		Envelope:    *env,
		Preferences: prefs,
	}

	log.Info().
		Str("sessionCode", s.Code).
		Int("roster", len(s.Roster)).
		Strs("cuisines", env.Cuisines).
		Msg("session searching")

	tx.OnCommit(func(committed *model.Session) {
		audit.Log(context.Background(), audit.Event{
			Type:        audit.EventSearchStart,
			SessionCode: committed.Code,
			Details:     map[string]interface{}{"roster": len(committed.Roster)},
		})
		c.notifier.Publish(committed.Code, event.SearchStarted{Cuisines: env.Cuisines})
	})
	return job, nil
}

// DeliverCandidates applies search results. Results for a superseded search,
// or for a session that has already finished, are dropped.
func (c *Coordinator) DeliverCandidates(ctx context.Context, code string, generation int, ranked []model.RankedCandidate) error {
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		if s.Phase != model.PhaseSearching || s.SearchGeneration != generation {
			log.Info().
				Str("sessionCode", code).
				Int("generation", generation).
				Str("phase", string(s.Phase)).
				Msg("discarding stale search result")
			return nil
		}

		if len(ranked) == 0 {
			return c.finish(tx, &model.Outcome{Kind: model.OutcomeNoMatches, Reason: "No restaurants matched the group's preferences"})
		}
		if len(s.Voters()) == 0 {
			return c.finish(tx, &model.Outcome{Kind: model.OutcomeNoConsensus, Reason: "Everyone left before voting started"})
		}

		if err := s.SetPhase(model.PhaseVoting); err != nil {
			return err
		}
		s.Candidates = append([]model.RankedCandidate(nil), ranked...)

		log.Info().Str("sessionCode", code).Int("candidates", len(ranked)).Msg("session voting")
		tx.OnCommit(func(committed *model.Session) {
			c.notifier.Publish(code, event.CandidatesReady{Candidates: committed.Candidates})
		})

		return c.evaluate(tx)
	})
	return err
}

// FailSearch degrades the session to an empty result set.
func (c *Coordinator) FailSearch(ctx context.Context, code string, generation int, reason string) error {
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		if s.Phase != model.PhaseSearching || s.SearchGeneration != generation {
			return nil
		}
		audit.Log(ctx, audit.Event{
			Type:        audit.EventSearchFailure,
			SessionCode: code,
			Details:     map[string]interface{}{"reason": reason},
		})
		return c.finish(tx, &model.Outcome{Kind: model.OutcomeSearchUnavailable, Reason: reason})
	})
	return err
}

// CastVote records a vote and, in the same critical section, checks for a
// unanimous match and for voting completion.
func (c *Coordinator) CastVote(ctx context.Context, code, participantID, candidateID string, value bool) error {
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		if s.Phase != model.PhaseVoting {
			return apperrors.VotingClosed(string(s.Phase))
		}
		if !s.IsVoter(participantID) {
			return apperrors.NotEligible(participantID)
		}
		if _, ok := s.Candidate(candidateID); !ok {
			return apperrors.UnknownCandidate(candidateID)
		}

		tx.PutVote(model.Vote{
			SessionCode:   code,
			ParticipantID: participantID,
			CandidateID:   candidateID,
			Value:         value,
			CastAt:        tx.Now,
		})

		tally := event.VoteTally{
			CandidateID:       candidateID,
			YesCount:          s.YesCount(candidateID),
			TotalParticipants: len(s.Voters()),
		}
		tx.OnCommit(func(*model.Session) {
			c.metrics.VoteRecorded(value)
			c.notifier.Publish(code, tally)
		})

		return c.evaluate(tx)
	})
	return err
}

// Leave marks a participant disconnected. The roster keeps them, so they
// vote again after reconnecting, but while absent they drop out of the
// denominator and voting is re-evaluated.
func (c *Coordinator) Leave(ctx context.Context, code, participantID string) error {
	_, err := c.store.Update(ctx, code, func(tx *store.Tx) error {
		s := tx.Session
		i := s.Participant(participantID)
		if i < 0 {
			return apperrors.NotFound("Participant")
		}
		s.Participants[i].Present = false

		tx.OnCommit(func(*model.Session) {
			c.notifier.Publish(code, event.ParticipantLeft{ParticipantID: participantID})
		})
		c.publishParticipants(tx)

		return c.evaluate(tx)
	})
	return err
}

// evaluate checks for a match, then for voting completion, against the
// voters present right now. With nobody present the session waits for a
// reconnect or the reaper.
func (c *Coordinator) evaluate(tx *store.Tx) error {
	s := tx.Session
	if s.Phase != model.PhaseVoting {
		return nil
	}
	voters := s.Voters()
	n := len(voters)
	if n == 0 {
		return nil
	}

	for _, cand := range s.Candidates {
		if s.YesCount(cand.ID) == n {
			match := cand
			return c.finish(tx, &model.Outcome{
				Kind:    model.OutcomeMatch,
				Match:   &match,
				Results: []model.ResultEntry{{Candidate: cand, YesVotes: n}},
			})
		}
	}

	for _, pid := range voters {
		if s.VotesCast(pid) < len(s.Candidates) {
			return nil
		}
	}

	return c.finish(tx, MajorityOutcome(s))
}

// MajorityOutcome computes the fallback result once voting is complete:
// candidates with at least ceil(n/2) yes votes from the n present voters,
// most votes first, at most MaxResults. Equal counts keep rank order.
func MajorityOutcome(s *model.Session) *model.Outcome {
	n := len(s.Voters())
	threshold := (n + 1) / 2

	var results []model.ResultEntry
	for _, cand := range s.Candidates {
		if yes := s.YesCount(cand.ID); yes >= threshold {
			results = append(results, model.ResultEntry{Candidate: cand, YesVotes: yes})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].YesVotes > results[j].YesVotes
	})
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}

	if len(results) == 0 {
		return &model.Outcome{Kind: model.OutcomeNoConsensus, Results: []model.ResultEntry{}, Reason: "No restaurant reached a majority"}
	}
	return &model.Outcome{Kind: model.OutcomeMajority, Results: results}
}

func (c *Coordinator) finish(tx *store.Tx, outcome *model.Outcome) error {
	s := tx.Session
	next := model.PhaseResultsReady
	if outcome.Kind == model.OutcomeMatch {
		next = model.PhaseMatched
	}
	if err := s.SetPhase(next); err != nil {
		return err
	}
	if outcome.Results == nil {
		outcome.Results = []model.ResultEntry{}
	}
	s.Outcome = outcome

	log.Info().
		Str("sessionCode", s.Code).
		Str("phase", string(next)).
		Str("outcome", string(outcome.Kind)).
		Int("results", len(outcome.Results)).
		Msg("session completed")

	tx.OnCommit(func(committed *model.Session) {
		c.metrics.Outcome(string(outcome.Kind))
		if outcome.Match != nil {
			audit.Log(context.Background(), audit.Event{
				Type:        audit.EventMatchFound,
				SessionCode: committed.Code,
				Details:     map[string]interface{}{"candidateId": outcome.Match.ID},
			})
			c.notifier.Publish(committed.Code, event.MatchFound{Candidate: *outcome.Match})
			return
		}
		audit.Log(context.Background(), audit.Event{
			Type:        audit.EventResultsReady,
			SessionCode: committed.Code,
			Details:     map[string]interface{}{"outcome": string(outcome.Kind), "results": len(outcome.Results)},
		})
		c.notifier.Publish(committed.Code, event.ResultsFromOutcome(outcome))
	})
	return nil
}

func (c *Coordinator) publishParticipants(tx *store.Tx) {
	tx.OnCommit(func(committed *model.Session) {
		c.notifier.Publish(committed.Code, event.ParticipantsUpdate{Participants: committed.Views()})
	})
}
