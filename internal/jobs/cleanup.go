package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/metrics"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/store"
)

// ConnectionCounter reports live subscribers for a session.
type ConnectionCounter interface {
	ClientCount(code string) int
}

// ArchivePurger drops archived sessions from durable storage.
type ArchivePurger interface {
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupOptions struct {
	Interval         time.Duration
	CompletedGrace   time.Duration
	IdleTTL          time.Duration
	ArchiveRetention time.Duration
}

// CleanupJob reaps sessions nobody is connected to: completed ones after a
// grace period, any other once idle beyond the TTL. Reaped sessions are
// archived by the store.
type CleanupJob struct {
	store   *store.Store
	conns   ConnectionCounter
	purger  ArchivePurger
	metrics *metrics.Metrics
	opts    CleanupOptions
	now     func() time.Time
	done    chan struct{}
}

func NewCleanupJob(
	st *store.Store,
	conns ConnectionCounter,
	purger ArchivePurger,
	m *metrics.Metrics,
	opts CleanupOptions,
) *CleanupJob {
	return &CleanupJob{
		store:   st,
		conns:   conns,
		purger:  purger,
		metrics: m,
		opts:    opts,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.opts.Interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "sessions", j.reapSessions)
	if j.purger != nil && j.opts.ArchiveRetention > 0 {
		j.runCleanup(ctx, "archived sessions", func(ctx context.Context) (int64, error) {
			return j.purger.DeleteArchivedBefore(ctx, j.now().Add(-j.opts.ArchiveRetention))
		})
	}
	j.metrics.SetActiveSessions(j.store.Len())
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}

func (j *CleanupJob) reapSessions(ctx context.Context) (int64, error) {
	now := j.now()
	var reaped int64
	for _, code := range j.store.Codes() {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		session, err := j.store.Get(code)
		if err != nil {
			continue
		}
		if !j.expired(session, now) {
			continue
		}
		if err := j.store.Delete(ctx, code); err != nil {
			continue
		}
		j.metrics.SessionRemoved()
		log.Debug().
			Str("sessionCode", code).
			Str("status", string(session.Status)).
			Msg("session reaped")
		reaped++
	}
	return reaped, nil
}

func (j *CleanupJob) expired(s *model.Session, now time.Time) bool {
	if j.conns != nil && j.conns.ClientCount(s.Code) > 0 {
		return false
	}
	idle := now.Sub(s.UpdatedAt)
	if s.Status == model.SessionStatusCompleted {
		return idle >= j.opts.CompletedGrace
	}
	return j.opts.IdleTTL > 0 && idle >= j.opts.IdleTTL
}
