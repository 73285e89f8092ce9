package gateway

import (
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/dinder/session-server-go/internal/broker"
	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/event"
)

type binding struct {
	code          string
	participantID string
	client        *broker.Client
}

// conn is one live websocket. Writes are serialised so replies and forwarded
// session events never interleave mid-frame.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu    sync.Mutex
	bound *binding
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{id: id, ws: ws}
}

func (c *conn) current() (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound == nil {
		return binding{}, false
	}
	return *c.bound, true
}

// bind records the session and starts forwarding its events.
func (c *conn) bind(b binding) {
	c.mu.Lock()
	c.bound = &b
	c.mu.Unlock()

	go c.forward(b.client)
}

func (c *conn) unbind() (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound == nil {
		return binding{}, false
	}
	b := *c.bound
	c.bound = nil
	return b, true
}

// forward relays broker events until the client is unsubscribed. A failed
// write only affects this connection.
func (c *conn) forward(client *broker.Client) {
	for {
		select {
		case <-client.Done:
			return
		case env := <-client.Events:
			if err := c.send(env); err != nil {
				log.Debug().
					Err(err).
					Str("connId", c.id).
					Str("sessionCode", client.SessionCode).
					Str("type", env.Type).
					Msg("dropping event for closed connection")
			}
		}
	}
}

func (c *conn) send(env event.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.JSON.Send(c.ws, env)
}

func (c *conn) write(requestID string, e event.Event) {
	env, err := event.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type()).Msg("failed to encode reply")
		return
	}
	env.RequestID = requestID
	_ = c.send(env)
}

func (c *conn) writeError(requestID string, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		log.Error().Err(err).Str("connId", c.id).Msg("unexpected gateway error")
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	c.write(requestID, event.Error{Kind: string(appErr.Code), Message: appErr.Message})
}
