package model

import (
	"slices"
	"sort"
	"time"

	apperrors "github.com/dinder/session-server-go/internal/errors"
)

type Participant struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsHost      bool         `json:"isHost"`
	Preferences *Preferences `json:"preferences,omitempty"`
	JoinedAt    time.Time    `json:"joinedAt"`
	Present     bool         `json:"present"`
}

func (p Participant) HasPreferences() bool {
	return p.Preferences != nil
}

type VoteKey struct {
	ParticipantID string
	CandidateID   string
}

type Vote struct {
	SessionCode   string    `json:"sessionCode"`
	ParticipantID string    `json:"participantId"`
	CandidateID   string    `json:"candidateId"`
	Value         bool      `json:"vote"`
	CastAt        time.Time `json:"castAt"`
}

func (v Vote) Key() VoteKey {
	return VoteKey{ParticipantID: v.ParticipantID, CandidateID: v.CandidateID}
}

// Session is the full state of one decision session. The store hands out
// clones; only the store mutates the canonical copy.
//
// Roster is the voter set captured when search starts. SearchGeneration
// increments on every search start so stale results can be recognised.
type Session struct {
	Code             string
	HostID           string
	Status           SessionStatus
	Phase            Phase
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Participants     []Participant
	Candidates       []RankedCandidate
	Votes            map[VoteKey]Vote
	Roster           []string
	Outcome          *Outcome
	SearchGeneration int
}

func NewSession(code, hostID string, now time.Time) *Session {
	return &Session{
		Code:      code,
		HostID:    hostID,
		Status:    SessionStatusWaiting,
		Phase:     PhaseCollectingPreferences,
		CreatedAt: now,
		UpdatedAt: now,
		Votes:     make(map[VoteKey]Vote),
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		if p.Preferences != nil {
			prefs := *p.Preferences
			p.Preferences = &prefs
		}
		c.Participants[i] = p
	}
	c.Candidates = slices.Clone(s.Candidates)
	c.Roster = slices.Clone(s.Roster)
	c.Votes = make(map[VoteKey]Vote, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.Results = slices.Clone(s.Outcome.Results)
		c.Outcome = &o
	}
	return &c
}

// SetStatus moves the session forward. Backward moves fail.
func (s *Session) SetStatus(next SessionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return apperrors.InvalidStatusTransition(string(s.Status), string(next))
	}
	s.Status = next
	return nil
}

// SetPhase moves the state machine and the status it implies.
func (s *Session) SetPhase(next Phase) error {
	if err := s.SetStatus(next.Status()); err != nil {
		return err
	}
	s.Phase = next
	return nil
}

// PutVote upserts a vote; the latest value for a pair wins.
func (s *Session) PutVote(v Vote) {
	if s.Votes == nil {
		s.Votes = make(map[VoteKey]Vote)
	}
	s.Votes[v.Key()] = v
}

// Participant returns the index of the participant with id, or -1.
func (s *Session) Participant(id string) int {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) InRoster(id string) bool {
	return slices.Contains(s.Roster, id)
}

// Voters returns the roster members that are currently present. They form
// the denominator for unanimity and completion; a roster member who
// reconnects counts again.
func (s *Session) Voters() []string {
	out := make([]string, 0, len(s.Roster))
	for _, id := range s.Roster {
		if i := s.Participant(id); i >= 0 && s.Participants[i].Present {
			out = append(out, id)
		}
	}
	return out
}

// IsVoter reports whether id is a present roster member.
func (s *Session) IsVoter(id string) bool {
	return slices.Contains(s.Voters(), id)
}

func (s *Session) Candidate(id string) (RankedCandidate, bool) {
	for _, c := range s.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return RankedCandidate{}, false
}

// PresentParticipants returns participants with a live connection.
func (s *Session) PresentParticipants() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Present {
			out = append(out, p)
		}
	}
	return out
}

// YesCount counts yes votes for a candidate from current voters only.
func (s *Session) YesCount(candidateID string) int {
	n := 0
	for _, pid := range s.Voters() {
		if v, ok := s.Votes[VoteKey{ParticipantID: pid, CandidateID: candidateID}]; ok && v.Value {
			n++
		}
	}
	return n
}

// VotesCast counts distinct candidates the participant has voted on.
func (s *Session) VotesCast(participantID string) int {
	n := 0
	for _, c := range s.Candidates {
		if _, ok := s.Votes[VoteKey{ParticipantID: participantID, CandidateID: c.ID}]; ok {
			n++
		}
	}
	return n
}

// VoteList returns the votes ordered by cast time, then participant.
func (s *Session) VoteList() []Vote {
	out := make([]Vote, 0, len(s.Votes))
	for _, v := range s.Votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out
}

// ParticipantView is the public projection of a participant sent to clients.
type ParticipantView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsHost         bool   `json:"isHost"`
	Present        bool   `json:"present"`
	HasPreferences bool   `json:"hasPreferences"`
	InRoster       bool   `json:"inRoster"`
}

type Tally struct {
	CandidateID       string `json:"candidateId"`
	YesCount          int    `json:"yesCount"`
	TotalParticipants int    `json:"totalParticipants"`
}

// Snapshot is the full re-sync view of a session.
type Snapshot struct {
	Code         string            `json:"code"`
	HostID       string            `json:"hostId"`
	Status       SessionStatus     `json:"status"`
	Phase        Phase             `json:"phase"`
	CreatedAt    time.Time         `json:"createdAt"`
	Participants []ParticipantView `json:"participants"`
	Candidates   []RankedCandidate `json:"candidates"`
	Tallies      []Tally           `json:"tallies"`
	Outcome      *Outcome          `json:"outcome,omitempty"`
}

func (s *Session) Views() []ParticipantView {
	views := make([]ParticipantView, 0, len(s.Participants))
	for _, p := range s.Participants {
		views = append(views, ParticipantView{
			ID:             p.ID,
			Name:           p.Name,
			IsHost:         p.IsHost,
			Present:        p.Present,
			HasPreferences: p.HasPreferences(),
			InRoster:       s.InRoster(p.ID),
		})
	}
	return views
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Code:         s.Code,
		HostID:       s.HostID,
		Status:       s.Status,
		Phase:        s.Phase,
		CreatedAt:    s.CreatedAt,
		Participants: s.Views(),
		Candidates:   s.Candidates,
		Tallies:      make([]Tally, 0, len(s.Candidates)),
		Outcome:      s.Outcome,
	}
	if snap.Candidates == nil {
		snap.Candidates = []RankedCandidate{}
	}
	voters := s.Voters()
	for _, c := range s.Candidates {
		snap.Tallies = append(snap.Tallies, Tally{
			CandidateID:       c.ID,
			YesCount:          s.YesCount(c.ID),
			TotalParticipants: len(voters),
		})
	}
	return snap
}
