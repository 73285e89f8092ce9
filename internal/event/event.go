package event

import (
	"encoding/json"

	"github.com/dinder/session-server-go/internal/model"
)

// Server event types.
const (
	TypeSessionCreated     = "sessionCreated"
	TypeSessionJoined      = "sessionJoined"
	TypeParticipantsUpdate = "participantsUpdate"
	TypeParticipantLeft    = "participantLeft"
	TypeSearchStarted      = "searchStarted"
	TypeCandidatesReady    = "candidatesReady"
	TypeVoteTally          = "voteTally"
	TypeMatchFound         = "matchFound"
	TypeResultsReady       = "resultsReady"
	TypeSnapshot           = "snapshot"
	TypeError              = "error"
)

// Event is a server-to-client notification. Each concrete type carries its
// own payload.
type Event interface {
	Type() string
}

// Envelope is the encoded form shared by the websocket gateway, the SSE
// stream and Redis fan-out.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"payload"`
}

func Encode(e Event) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: e.Type(), Data: data}, nil
}

type SessionCreated struct {
	Code          string         `json:"code"`
	ParticipantID string         `json:"participantId"`
	Session       model.Snapshot `json:"session"`
}

type SessionJoined struct {
	ParticipantID string         `json:"participantId"`
	Session       model.Snapshot `json:"session"`
}

type ParticipantsUpdate struct {
	Participants []model.ParticipantView `json:"participants"`
}

type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

type SearchStarted struct {
	Cuisines []string `json:"cuisines,omitempty"`
}

type CandidatesReady struct {
	Candidates []model.RankedCandidate `json:"candidates"`
}

type VoteTally struct {
	CandidateID       string `json:"candidateId"`
	YesCount          int    `json:"yesCount"`
	TotalParticipants int    `json:"totalParticipants"`
}

type MatchFound struct {
	Candidate model.RankedCandidate `json:"candidate"`
}

type ResultsReady struct {
	Kind       model.OutcomeKind   `json:"kind"`
	Candidates []model.ResultEntry `json:"candidates"`
	Reason     string              `json:"reason,omitempty"`
}

type Snapshot struct {
	Session model.Snapshot `json:"session"`
}

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (SessionCreated) Type() string     { return TypeSessionCreated }
func (SessionJoined) Type() string      { return TypeSessionJoined }
func (ParticipantsUpdate) Type() string { return TypeParticipantsUpdate }
func (ParticipantLeft) Type() string    { return TypeParticipantLeft }
func (SearchStarted) Type() string      { return TypeSearchStarted }
func (CandidatesReady) Type() string    { return TypeCandidatesReady }
func (VoteTally) Type() string          { return TypeVoteTally }
func (MatchFound) Type() string         { return TypeMatchFound }
func (ResultsReady) Type() string       { return TypeResultsReady }
func (Snapshot) Type() string           { return TypeSnapshot }
func (Error) Type() string              { return TypeError }

// ResultsFromOutcome builds the resultsReady event for a terminal outcome.
func ResultsFromOutcome(o *model.Outcome) ResultsReady {
	r := ResultsReady{Kind: o.Kind, Candidates: o.Results, Reason: o.Reason}
	if r.Candidates == nil {
		r.Candidates = []model.ResultEntry{}
	}
	return r
}

// Client command types.
const (
	CmdCreateSession     = "createSession"
	CmdJoinSession       = "joinSession"
	CmdSubmitPreferences = "submitPreferences"
	CmdStartSearch       = "startSearch"
	CmdSubmitVote        = "submitVote"
	CmdSync              = "sync"
	CmdLeaveSession      = "leaveSession"
)

type CreateSession struct {
	HostName string `json:"hostName" validate:"required,max=64"`
}

type JoinSession struct {
	Code          string `json:"code" validate:"required,len=4,alphanum"`
	Name          string `json:"name" validate:"required_without=ParticipantID,max=64"`
	ParticipantID string `json:"participantId,omitempty" validate:"omitempty,uuid"`
}

type SubmitVote struct {
	CandidateID string `json:"candidateId" validate:"required"`
	Vote        *bool  `json:"vote" validate:"required"`
}
