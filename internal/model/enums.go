package model

type SessionStatus string

const (
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusWaiting:
		return 0
	case SessionStatusActive:
		return 1
	case SessionStatusCompleted:
		return 2
	default:
		return -1
	}
}

func (s SessionStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. Re-applying the current status is allowed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Phase is the voting state machine position of a session.
type Phase string

const (
	PhaseCollectingPreferences Phase = "collecting_preferences"
	PhaseSearching             Phase = "searching"
	PhaseVoting                Phase = "voting"
	PhaseMatched               Phase = "matched"
	PhaseResultsReady          Phase = "results_ready"
)

// Status returns the coarse session status implied by the phase.
func (p Phase) Status() SessionStatus {
	switch p {
	case PhaseSearching, PhaseVoting:
		return SessionStatusActive
	case PhaseMatched, PhaseResultsReady:
		return SessionStatusCompleted
	default:
		return SessionStatusWaiting
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseMatched || p == PhaseResultsReady
}

type OutcomeKind string

const (
	OutcomeMatch             OutcomeKind = "match"
	OutcomeMajority          OutcomeKind = "majority"
	OutcomeNoConsensus       OutcomeKind = "no_consensus"
	OutcomeNoMatches         OutcomeKind = "no_matches"
	OutcomeSearchUnavailable OutcomeKind = "search_unavailable"
)
