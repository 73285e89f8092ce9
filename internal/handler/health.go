package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/config"
)

// Pinger is a dependency the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SessionCounter reports how many sessions are held in memory.
type SessionCounter interface {
	Len() int
}

type HealthHandler struct {
	sessions SessionCounter
	checks   map[string]Pinger
}

func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		sessions: sessions,
		checks:   make(map[string]Pinger),
	}
}

// WithCheck adds a named dependency to check. A failing check turns the
// response into 503.
func (h *HealthHandler) WithCheck(name string, p Pinger) *HealthHandler {
	h.checks[name] = p
	return h
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))

	for name, p := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UnixMilli(),
		"activeSessions": h.sessions.Len(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, status, body)
}
