package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/broker"
	"github.com/dinder/session-server-go/internal/config"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/util"
)

// SnapshotSource provides the current state of a session.
type SnapshotSource interface {
	Snapshot(code string) (model.Snapshot, error)
}

// EventsHandler streams a session's events to read-only observers over
// server-sent events. Observers are not participants and cannot vote.
type EventsHandler struct {
	broker    *broker.Broker
	sessions  SnapshotSource
	heartbeat time.Duration
}

func NewEventsHandler(b *broker.Broker, sessions SnapshotSource) *EventsHandler {
	return &EventsHandler{
		broker:    b,
		sessions:  sessions,
		heartbeat: config.SSEHeartbeatInterval,
	}
}

// GET /v1/sessions/{code}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := util.NormalizeCode(chi.URLParam(r, "code"))

	snap, err := h.sessions.Snapshot(code)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	observerID := "observer:" + uuid.NewString()
	client := h.broker.Subscribe(code, observerID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("sessionCode", code).
		Str("observerId", observerID).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, event.Snapshot{Session: snap}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionCode", code).
				Str("observerId", observerID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("sessionCode", code).
				Str("observerId", observerID).
				Msg("sse connection closed by broker")
			return

		case env := <-client.Events:
			if err := h.sendRawEvent(w, flusher, env); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("observerId", observerID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, e event.Event) error {
	env, err := event.Encode(e)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, env)
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, env event.Envelope) error {
	data, err := json.Marshal(env.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", env.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
