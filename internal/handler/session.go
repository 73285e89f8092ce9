package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/config"
	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// Routes mounts under /v1/sessions. create is passed separately so the caller
// can wrap it with a rate limiter. The event stream is long-lived and stays
// outside the request timeout.
func (h *SessionHandler) Routes(create func(http.Handler) http.Handler, events http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.With(create).Post("/", h.CreateSession)
		r.Get("/{code}", h.GetSession)
		r.Get("/{code}/results", h.GetResults)
	})
	if events != nil {
		r.Get("/{code}/events", events.ServeHTTP)
	}

	return r
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req event.CreateSession
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := event.Validate(&req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessionService.CreateSession(r.Context(), req.HostName)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to create session")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/sessions/{code}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessionService.Snapshot(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/sessions/{code}/results
func (h *SessionHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.sessionService.Results(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
