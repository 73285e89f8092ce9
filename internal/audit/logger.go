package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate    EventType = "session_create"
	EventSessionArchive   EventType = "session_archive"
	EventParticipantJoin  EventType = "participant_join"
	EventParticipantLeave EventType = "participant_leave"
	EventSearchStart      EventType = "search_start"
	EventSearchFailure    EventType = "search_failure"
	EventMatchFound       EventType = "match_found"
	EventResultsReady     EventType = "results_ready"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
)

type Event struct {
	Type          EventType
	SessionCode   string
	ParticipantID string
	IP            string
	UserAgent     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := loggerFrom(ctx).With().
		Str("audit", "session").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionCode != "" {
		logger = logger.With().Str("sessionCode", event.SessionCode).Logger()
	}
	if event.ParticipantID != "" {
		logger = logger.With().Str("participantId", event.ParticipantID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("session audit event")
}

// loggerFrom returns the request-scoped logger when one is attached, else the
// global logger.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case float64:
		return e.Float64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
