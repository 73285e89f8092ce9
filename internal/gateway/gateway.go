// Package gateway is the websocket transport for live session participants.
// Each connection is bound to at most one (session, participant) pair and
// receives that session's events through the broker.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/dinder/session-server-go/internal/broker"
	"github.com/dinder/session-server-go/internal/config"
	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/metrics"
	"github.com/dinder/session-server-go/internal/model"
	"github.com/dinder/session-server-go/internal/service"
	"github.com/dinder/session-server-go/internal/util"
)

// Sessions is the part of the session service the gateway drives.
type Sessions interface {
	CreateSession(ctx context.Context, hostName string) (*service.CreateSessionResult, error)
	JoinSession(ctx context.Context, code, name, participantID string) (*service.JoinSessionResult, error)
	SubmitPreferences(ctx context.Context, code, participantID string, prefs model.Preferences) error
	StartSearch(ctx context.Context, code, participantID string) error
	CastVote(ctx context.Context, code, participantID, candidateID string, value bool) error
	Leave(ctx context.Context, code, participantID string) error
	Snapshot(code string) (model.Snapshot, error)
}

// Fanout is the subscription side of the broker.
type Fanout interface {
	Subscribe(code, id string) *broker.Client
	Unsubscribe(client *broker.Client)
}

type Gateway struct {
	sessions Sessions
	fanout   Fanout
	metrics  *metrics.Metrics
	server   websocket.Server
}

func New(sessions Sessions, fanout Fanout, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		sessions: sessions,
		fanout:   fanout,
		metrics:  m,
	}
	g.server = websocket.Server{
		// Clients are trusted and may be native apps without an Origin.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   g.handleConn,
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g.server.ServeHTTP(w, r)
}

func (g *Gateway) handleConn(ws *websocket.Conn) {
	ws.MaxPayloadBytes = config.MaxFramePayloadBytes
	c := newConn(uuid.NewString(), ws)

	g.metrics.ConnectionOpened()
	log.Debug().Str("connId", c.id).Msg("websocket connected")

	ctx := context.WithoutCancel(ws.Request().Context())
	defer func() {
		g.leave(ctx, c)
		_ = ws.Close()
		g.metrics.ConnectionClosed()
		log.Debug().Str("connId", c.id).Msg("websocket closed")
	}()

	limiter := rate.NewLimiter(rate.Limit(config.MaxFramesPerSecond), config.MaxFramesPerSecond)
	decodeErrors := 0

	for {
		var frame event.Envelope
		if err := websocket.JSON.Receive(ws, &frame); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, websocket.ErrFrameTooLarge):
				c.writeError(frame.RequestID, apperrors.InvalidInput("payload", "frame too large"))
				continue
			case isDecodeError(err):
				decodeErrors++
				c.writeError("", apperrors.ValidationError("Invalid frame payload"))
				if decodeErrors >= config.MaxDecodeErrorsPerConn {
					return
				}
				continue
			default:
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket read failed")
				return
			}
		}
		decodeErrors = 0

		if !limiter.Allow() {
			c.writeError(frame.RequestID, apperrors.RateLimitExceeded())
			continue
		}

		g.dispatch(ctx, c, frame)
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// dispatch routes one client frame. Every failure is answered with an error
// frame carrying the request id; none of them closes the connection.
func (g *Gateway) dispatch(ctx context.Context, c *conn, frame event.Envelope) {
	var err error
	switch frame.Type {
	case event.CmdCreateSession:
		err = g.handleCreate(ctx, c, frame)
	case event.CmdJoinSession:
		err = g.handleJoin(ctx, c, frame)
	case event.CmdSubmitPreferences:
		err = g.handlePreferences(ctx, c, frame)
	case event.CmdStartSearch:
		err = g.withBinding(c, func(b binding) error {
			return g.sessions.StartSearch(ctx, b.code, b.participantID)
		})
	case event.CmdSubmitVote:
		err = g.handleVote(ctx, c, frame)
	case event.CmdSync:
		err = g.handleSync(c, frame)
	case event.CmdLeaveSession:
		err = g.withBinding(c, func(binding) error {
			g.leave(ctx, c)
			return nil
		})
	default:
		err = apperrors.InvalidInput("type", "unsupported frame type")
	}

	if err != nil {
		c.writeError(frame.RequestID, err)
	}
}

func (g *Gateway) handleCreate(ctx context.Context, c *conn, frame event.Envelope) error {
	if _, ok := c.current(); ok {
		return apperrors.Conflict("Connection has already joined a session")
	}

	var cmd event.CreateSession
	if err := decodePayload(frame, &cmd); err != nil {
		return err
	}

	res, err := g.sessions.CreateSession(ctx, cmd.HostName)
	if err != nil {
		return err
	}

	client := g.fanout.Subscribe(res.Code, c.id)
	c.write(frame.RequestID, event.SessionCreated{
		Code:          res.Code,
		ParticipantID: res.ParticipantID,
		Session:       res.Session,
	})
	c.bind(binding{code: res.Code, participantID: res.ParticipantID, client: client})
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *conn, frame event.Envelope) error {
	if _, ok := c.current(); ok {
		return apperrors.Conflict("Connection has already joined a session")
	}

	var cmd event.JoinSession
	if err := decodePayload(frame, &cmd); err != nil {
		return err
	}

	// Subscribe first so nothing published after the join is missed; the
	// client's buffer holds events until the reply has been written.
	code := util.NormalizeCode(cmd.Code)
	client := g.fanout.Subscribe(code, c.id)
	res, err := g.sessions.JoinSession(ctx, code, cmd.Name, cmd.ParticipantID)
	if err != nil {
		g.fanout.Unsubscribe(client)
		return err
	}

	c.write(frame.RequestID, event.SessionJoined{
		ParticipantID: res.ParticipantID,
		Session:       res.Session,
	})
	c.bind(binding{code: code, participantID: res.ParticipantID, client: client})
	return nil
}

func (g *Gateway) handlePreferences(ctx context.Context, c *conn, frame event.Envelope) error {
	return g.withBinding(c, func(b binding) error {
		var prefs model.Preferences
		if err := json.Unmarshal(frame.Data, &prefs); err != nil {
			return apperrors.InvalidInput("payload", err.Error())
		}
		return g.sessions.SubmitPreferences(ctx, b.code, b.participantID, prefs)
	})
}

func (g *Gateway) handleVote(ctx context.Context, c *conn, frame event.Envelope) error {
	return g.withBinding(c, func(b binding) error {
		var cmd event.SubmitVote
		if err := decodePayload(frame, &cmd); err != nil {
			return err
		}
		return g.sessions.CastVote(ctx, b.code, b.participantID, cmd.CandidateID, *cmd.Vote)
	})
}

func (g *Gateway) handleSync(c *conn, frame event.Envelope) error {
	return g.withBinding(c, func(b binding) error {
		snap, err := g.sessions.Snapshot(b.code)
		if err != nil {
			return err
		}
		c.write(frame.RequestID, event.Snapshot{Session: snap})
		return nil
	})
}

func (g *Gateway) withBinding(c *conn, fn func(b binding) error) error {
	b, ok := c.current()
	if !ok {
		return apperrors.ValidationError("Join a session first")
	}
	return fn(b)
}

// leave drops the connection from the session's fan-out and marks the
// participant disconnected. The participant stays in the session history.
func (g *Gateway) leave(ctx context.Context, c *conn) {
	b, ok := c.unbind()
	if !ok {
		return
	}
	g.fanout.Unsubscribe(b.client)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.sessions.Leave(ctx, b.code, b.participantID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		log.Warn().
			Err(err).
			Str("sessionCode", b.code).
			Str("participantId", b.participantID).
			Msg("failed to process leave")
	}
}

func decodePayload(frame event.Envelope, dst any) error {
	if len(frame.Data) == 0 {
		return apperrors.MissingRequired("payload")
	}
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		return apperrors.InvalidInput("payload", "invalid "+frame.Type+" payload")
	}
	return event.Validate(dst)
}
