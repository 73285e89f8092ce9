package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/model"
)

// Persister receives the committed state of a session after every mutation.
// SaveVotes is used when a mutation only cast votes: it writes the session
// row and the given votes, leaving participants and candidates alone.
type Persister interface {
	SaveSession(ctx context.Context, session *model.Session) error
	SaveVotes(ctx context.Context, session *model.Session, votes []model.Vote) error
	ArchiveSession(ctx context.Context, code string) error
}

// Loader returns the sessions that should be live after a restart.
type Loader interface {
	LoadActiveSessions(ctx context.Context) ([]*model.Session, error)
}

type entry struct {
	mu      sync.Mutex
	session *model.Session
	deleted bool
}

// Store is the registry of live sessions. Each session has its own lock, so
// operations on different codes never contend.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	persister Persister
	now       func() time.Time
}

func New(persister Persister) *Store {
	return &Store{
		sessions:  make(map[string]*entry),
		persister: persister,
		now:       time.Now,
	}
}

// Tx is the working copy handed to an Update callback.
type Tx struct {
	Session *model.Session
	Now     time.Time
	hooks   []func(committed *model.Session)
	votes   []model.Vote
}

// PutVote records v on the working copy. The commit then writes only the
// session row and the recorded votes, so a transaction using PutVote must not
// change participants or candidates.
func (tx *Tx) PutVote(v model.Vote) {
	tx.Session.PutVote(v)
	tx.votes = append(tx.votes, v)
}

// OnCommit registers f to run after the change is committed, while the
// session lock is still held. Hooks run in registration order.
func (tx *Tx) OnCommit(f func(committed *model.Session)) {
	tx.hooks = append(tx.hooks, f)
}

func (st *Store) Create(ctx context.Context, hostID, code string) (*model.Session, error) {
	session := model.NewSession(code, hostID, st.now())

	st.mu.Lock()
	if _, exists := st.sessions[code]; exists {
		st.mu.Unlock()
		return nil, apperrors.DuplicateCode(code)
	}
	e := &entry{session: session}
	e.mu.Lock()
	st.sessions[code] = e
	st.mu.Unlock()
	defer e.mu.Unlock()

	st.persist(ctx, session, nil)
	return session.Clone(), nil
}

func (st *Store) Get(code string) (*model.Session, error) {
	e, err := st.lookup(code)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, apperrors.SessionNotFound(code)
	}
	return e.session.Clone(), nil
}

// Update applies fn to a copy of the session under its lock. The copy
// replaces the stored state only when fn returns nil, so a rejected change
// leaves the session untouched.
func (st *Store) Update(ctx context.Context, code string, fn func(tx *Tx) error) (*model.Session, error) {
	e, err := st.lookup(code)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, apperrors.SessionNotFound(code)
	}

	tx := &Tx{Session: e.session.Clone(), Now: st.now()}
	if err := fn(tx); err != nil {
		return nil, err
	}

	tx.Session.UpdatedAt = tx.Now
	e.session = tx.Session
	st.persist(ctx, e.session, tx.votes)

	committed := e.session.Clone()
	for _, hook := range tx.hooks {
		hook(committed)
	}
	return committed, nil
}

// AddParticipant adds p, or refreshes the existing participant with the same
// id. Preferences, host flag and join time of an existing participant are
// kept.
func (st *Store) AddParticipant(ctx context.Context, code string, p model.Participant) (*model.Session, error) {
	return st.Update(ctx, code, func(tx *Tx) error {
		s := tx.Session
		if i := s.Participant(p.ID); i >= 0 {
			s.Participants[i].Name = p.Name
			s.Participants[i].Present = p.Present
			return nil
		}
		if p.JoinedAt.IsZero() {
			p.JoinedAt = tx.Now
		}
		s.Participants = append(s.Participants, p)
		return nil
	})
}

func (st *Store) SetCandidates(ctx context.Context, code string, candidates []model.RankedCandidate) (*model.Session, error) {
	return st.Update(ctx, code, func(tx *Tx) error {
		tx.Session.Candidates = append([]model.RankedCandidate(nil), candidates...)
		return nil
	})
}

// RecordVote upserts a vote for a known candidate.
func (st *Store) RecordVote(ctx context.Context, code, participantID, candidateID string, value bool) (*model.Session, error) {
	return st.Update(ctx, code, func(tx *Tx) error {
		if _, ok := tx.Session.Candidate(candidateID); !ok {
			return apperrors.UnknownCandidate(candidateID)
		}
		tx.PutVote(model.Vote{
			SessionCode:   code,
			ParticipantID: participantID,
			CandidateID:   candidateID,
			Value:         value,
			CastAt:        tx.Now,
		})
		return nil
	})
}

func (st *Store) SetStatus(ctx context.Context, code string, status model.SessionStatus) (*model.Session, error) {
	return st.Update(ctx, code, func(tx *Tx) error {
		return tx.Session.SetStatus(status)
	})
}

// Delete removes the session from memory and archives its durable copy.
func (st *Store) Delete(ctx context.Context, code string) error {
	st.mu.Lock()
	e, ok := st.sessions[code]
	if ok {
		delete(st.sessions, code)
	}
	st.mu.Unlock()

	if !ok {
		return apperrors.SessionNotFound(code)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	if st.persister != nil {
		if err := st.persister.ArchiveSession(ctx, code); err != nil {
			log.Error().Err(err).Str("sessionCode", code).Msg("failed to archive session")
		}
	}
	return nil
}

// Codes returns the active session codes in sorted order.
func (st *Store) Codes() []string {
	st.mu.RLock()
	codes := make([]string, 0, len(st.sessions))
	for code := range st.sessions {
		codes = append(codes, code)
	}
	st.mu.RUnlock()

	sort.Strings(codes)
	return codes
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Restore loads sessions from loader into memory. Codes already live are
// skipped. Restored participants start disconnected.
func (st *Store) Restore(ctx context.Context, loader Loader) (int, error) {
	sessions, err := loader.LoadActiveSessions(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	restored := 0
	for _, s := range sessions {
		if _, exists := st.sessions[s.Code]; exists {
			continue
		}
		s = s.Clone()
		if s.Votes == nil {
			s.Votes = make(map[model.VoteKey]model.Vote)
		}
		for i := range s.Participants {
			s.Participants[i].Present = false
		}
		st.sessions[s.Code] = &entry{session: s}
		restored++
	}
	return restored, nil
}

func (st *Store) lookup(code string) (*entry, error) {
	st.mu.RLock()
	e, ok := st.sessions[code]
	st.mu.RUnlock()
	if !ok {
		return nil, apperrors.SessionNotFound(code)
	}
	return e, nil
}

// persist writes through to the durable store, either the given votes or,
// when votes is nil, the whole session. Failures are logged and do not fail
// the in-memory mutation.
func (st *Store) persist(ctx context.Context, s *model.Session, votes []model.Vote) {
	if st.persister == nil {
		return
	}
	var err error
	if votes != nil {
		err = st.persister.SaveVotes(ctx, s, votes)
	} else {
		err = st.persister.SaveSession(ctx, s)
	}
	if err != nil {
		log.Error().Err(apperrors.Database(err)).Str("sessionCode", s.Code).Int("votes", len(votes)).Msg("failed to persist session")
	}
}
