package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dinder/session-server-go/internal/audit"
	"github.com/dinder/session-server-go/internal/config"
	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/metrics"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/places"
	"github.com/dinder/session-server-go/internal/ranking"
	"github.com/dinder/session-server-go/internal/store"
	"github.com/dinder/session-server-go/internal/util"
	"github.com/dinder/session-server-go/internal/voting"
)

const tracerName = "github.com/dinder/session-server-go/internal/service"

type SearchOptions struct {
	Timeout             time.Duration
	DefaultRadiusMeters float64
	MaxConcurrency      int
}

type CreateSessionResult struct {
	Code          string         `json:"code"`
	ParticipantID string         `json:"participantId"`
	Session       model.Snapshot `json:"session"`
}

type JoinSessionResult struct {
	ParticipantID string         `json:"participantId"`
	Session       model.Snapshot `json:"session"`
	Rejoined      bool           `json:"rejoined"`
}

// SessionService orchestrates the session store, the voting coordinator and
// the background search pipeline.
type SessionService struct {
	store       *store.Store
	coordinator *voting.Coordinator
	notifier    voting.Notifier
	searcher    places.Searcher
	metrics     *metrics.Metrics
	opts        SearchOptions
	tracer      trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionService(
	st *store.Store,
	coordinator *voting.Coordinator,
	notifier voting.Notifier,
	searcher places.Searcher,
	m *metrics.Metrics,
	opts SearchOptions,
) *SessionService {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		store:       st,
		coordinator: coordinator,
		notifier:    notifier,
		searcher:    searcher,
		metrics:     m,
		opts:        opts,
		tracer:      otel.Tracer(tracerName),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// CreateSession allocates a fresh code, retrying on collision with an active
// session, and registers the host as the first participant.
func (s *SessionService) CreateSession(ctx context.Context, hostName string) (*CreateSessionResult, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, apperrors.MissingRequired("hostName")
	}

	hostID := uuid.NewString()
	var session *model.Session
	for attempt := 0; attempt < config.SessionCodeMaxAttempts; attempt++ {
		code, err := util.GenerateCode(config.SessionCodeAlphabet, config.SessionCodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate session code: %w", err)
		}
		session, err = s.store.Create(ctx, hostID, code)
		if err == nil {
			break
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeDuplicateCode) {
			return nil, err
		}
		log.Debug().Str("sessionCode", code).Int("attempt", attempt+1).Msg("session code collision, retrying")
	}
	if session == nil {
		return nil, apperrors.Internal("Could not allocate a session code")
	}

	session, err := s.store.AddParticipant(ctx, session.Code, model.Participant{
		ID:       hostID,
		Name:     hostName,
		IsHost:   true,
		JoinedAt: time.Now(),
		Present:  true,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SessionCreated()
	audit.Log(ctx, audit.Event{
		Type:          audit.EventSessionCreate,
		SessionCode:   session.Code,
		ParticipantID: hostID,
	})
	log.Info().
		Str("sessionCode", session.Code).
		Str("participantId", hostID).
		Msg("session created")

	return &CreateSessionResult{
		Code:          session.Code,
		ParticipantID: hostID,
		Session:       session.Snapshot(),
	}, nil
}

// JoinSession adds a participant. A known participantId reconnects the
// existing participant instead of creating a new one. Participants joining
// after the search started are recorded but cannot vote.
func (s *SessionService) JoinSession(ctx context.Context, code, name, participantID string) (*JoinSessionResult, error) {
	code = util.NormalizeCode(code)
	name = strings.TrimSpace(name)
	if participantID != "" && !util.IsValidUUID(participantID) {
		return nil, apperrors.InvalidInput("participantId", "must be a participant id issued by this server")
	}

	var (
		pid      string
		rejoined bool
	)
	session, err := s.store.Update(ctx, code, func(tx *store.Tx) error {
		sess := tx.Session
		if participantID != "" {
			if i := sess.Participant(participantID); i >= 0 {
				pid = participantID
				rejoined = true
				sess.Participants[i].Present = true
				if name != "" {
					sess.Participants[i].Name = name
				}
			}
		}
		if pid == "" {
			if name == "" {
				return apperrors.MissingRequired("name")
			}
			pid = uuid.NewString()
			sess.Participants = append(sess.Participants, model.Participant{
				ID:       pid,
				Name:     name,
				JoinedAt: tx.Now,
				Present:  true,
			})
		}

		tx.OnCommit(func(committed *model.Session) {
			s.notifier.Publish(committed.Code, event.ParticipantsUpdate{Participants: committed.Views()})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventParticipantJoin,
		SessionCode:   code,
		ParticipantID: pid,
		Details: map[string]interface{}{
			"rejoined": rejoined,
			"phase":    string(session.Phase),
		},
	})

	return &JoinSessionResult{
		ParticipantID: pid,
		Session:       session.Snapshot(),
		Rejoined:      rejoined,
	}, nil
}

func (s *SessionService) SubmitPreferences(ctx context.Context, code, participantID string, prefs model.Preferences) error {
	job, err := s.coordinator.SubmitPreferences(ctx, util.NormalizeCode(code), participantID, prefs)
	if err != nil {
		return err
	}
	s.launch(job)
	return nil
}

func (s *SessionService) StartSearch(ctx context.Context, code, participantID string) error {
	job, err := s.coordinator.StartSearch(ctx, util.NormalizeCode(code), participantID)
	if err != nil {
		return err
	}
	s.launch(job)
	return nil
}

func (s *SessionService) CastVote(ctx context.Context, code, participantID, candidateID string, value bool) error {
	return s.coordinator.CastVote(ctx, util.NormalizeCode(code), participantID, candidateID, value)
}

func (s *SessionService) Leave(ctx context.Context, code, participantID string) error {
	if err := s.coordinator.Leave(ctx, util.NormalizeCode(code), participantID); err != nil {
		return err
	}
	audit.Log(ctx, audit.Event{
		Type:          audit.EventParticipantLeave,
		SessionCode:   util.NormalizeCode(code),
		ParticipantID: participantID,
	})
	return nil
}

func (s *SessionService) Snapshot(code string) (model.Snapshot, error) {
	session, err := s.store.Get(util.NormalizeCode(code))
	if err != nil {
		return model.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Results returns the outcome of a completed session.
func (s *SessionService) Results(code string) (*model.Outcome, error) {
	session, err := s.store.Get(util.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if session.Outcome == nil {
		return nil, apperrors.Conflict("Results are not ready yet")
	}
	return session.Outcome, nil
}

// Close cancels in-flight searches and waits for them to settle.
func (s *SessionService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *SessionService) launch(job *voting.SearchJob) {
	if job == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSearch(s.ctx, job)
	}()
}

// runSearch fetches, normalises and ranks candidates for job, then hands the
// result back to the coordinator. Failures and timeouts complete the session
// with an empty result set.
func (s *SessionService) runSearch(ctx context.Context, job *voting.SearchJob) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "session.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.code", job.Code),
		attribute.Int("session.generation", job.Generation),
		attribute.Int("session.cuisines", len(job.Envelope.Cuisines)),
	)

	start := time.Now()
	ranked, err := s.search(ctx, job)
	s.metrics.SearchObserved(time.Since(start), err)

	// Delivery must survive the search deadline.
	deliverCtx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().
			Err(err).
			Str("sessionCode", job.Code).
			Int("generation", job.Generation).
			Msg("restaurant search failed")
		if ferr := s.coordinator.FailSearch(deliverCtx, job.Code, job.Generation, searchFailureReason(err)); ferr != nil {
			log.Warn().Err(ferr).Str("sessionCode", job.Code).Msg("failed to record search failure")
		}
		return
	}

	span.SetAttributes(attribute.Int("session.candidates", len(ranked)))
	if derr := s.coordinator.DeliverCandidates(deliverCtx, job.Code, job.Generation, ranked); derr != nil {
		log.Warn().Err(derr).Str("sessionCode", job.Code).Msg("failed to deliver candidates")
	}
}

func (s *SessionService) search(ctx context.Context, job *voting.SearchJob) ([]model.RankedCandidate, error) {
	radius := s.opts.DefaultRadiusMeters
	if job.Envelope.RadiusMeters != nil {
		radius = *job.Envelope.RadiusMeters
	}

	records, err := places.SearchEnvelope(ctx, s.searcher, &job.Envelope, radius, s.opts.MaxConcurrency)
	if err != nil {
		return nil, err
	}

	candidates := places.Normalize(records)
	log.Info().
		Str("sessionCode", job.Code).
		Int("records", len(records)).
		Int("candidates", len(candidates)).
		Float64("radiusMeters", radius).
		Msg("restaurant search completed")

	return ranking.RankAll(candidates, job.Preferences, job.Envelope.Location)
}

func searchFailureReason(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Message
	}
	return "Restaurant search failed"
}
