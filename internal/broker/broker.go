package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/config"
	"github.com/dinder/session-server-go/internal/event"
	"github.com/dinder/session-server-go/internal/metrics"
	redisclient "github.com/dinder/session-server-go/internal/redis"
)

const outboundBuffer = 1024

// Client is one subscriber to a session's events.
type Client struct {
	SessionCode string
	ID          string
	Events      chan event.Envelope
	Done        chan struct{}
}

type outbound struct {
	code string
	data []byte
	env  event.Envelope
}

// Broker fans session events out to subscribers. With Redis configured,
// events travel through pub/sub so every instance's subscribers see them;
// otherwise delivery is in-process. Delivery is best effort: a subscriber
// with a full buffer misses the event.
type Broker struct {
	redis    *redisclient.Client
	metrics  *metrics.Metrics
	clients  map[string]map[*Client]struct{}
	subs     map[string]context.CancelFunc
	outbound chan outbound
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(redisClient *redisclient.Client, m *metrics.Metrics) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:   redisClient,
		metrics: m,
		clients: make(map[string]map[*Client]struct{}),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
	if redisClient != nil {
		b.outbound = make(chan outbound, outboundBuffer)
		b.wg.Add(1)
		go b.publishLoop()
	}
	return b
}

func (b *Broker) Subscribe(code, id string) *Client {
	client := &Client{
		SessionCode: code,
		ID:          id,
		Events:      make(chan event.Envelope, config.ClientEventBuffer),
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[code] == nil {
		b.clients[code] = make(map[*Client]struct{})
		if b.redis != nil {
			subCtx, cancel := context.WithCancel(b.ctx)
			b.subs[code] = cancel
			b.wg.Add(1)
			go b.subscribeToRedis(subCtx, code)
		}
	}
	b.clients[code][client] = struct{}{}
	clientCount := len(b.clients[code])
	b.mu.Unlock()

	log.Debug().
		Str("sessionCode", code).
		Str("clientId", id).
		Int("clientCount", clientCount).
		Msg("broker client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.SessionCode]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.SessionCode)
		if cancel, ok := b.subs[client.SessionCode]; ok {
			cancel()
			delete(b.subs, client.SessionCode)
		}
	}

	log.Debug().
		Str("sessionCode", client.SessionCode).
		Str("clientId", client.ID).
		Int("clientCount", len(clients)).
		Msg("broker client unsubscribed")
}

// Publish never blocks. Events for one session are delivered in publish
// order.
func (b *Broker) Publish(code string, e event.Event) {
	env, err := event.Encode(e)
	if err != nil {
		log.Error().Err(err).Str("sessionCode", code).Str("type", e.Type()).Msg("failed to encode event")
		return
	}

	if b.redis == nil {
		b.broadcast(code, env)
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("sessionCode", code).Msg("failed to marshal event")
		return
	}

	select {
	case b.outbound <- outbound{code: code, data: data, env: env}:
	default:
		b.metrics.BroadcastDropped()
		log.Warn().Str("sessionCode", code).Str("type", env.Type).Msg("broker outbound queue full, dropping event")
	}
}

func (b *Broker) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.outbound:
			channel := redisclient.SessionChannel(msg.code)
			if err := b.redis.Publish(b.ctx, channel, msg.data).Err(); err != nil {
				log.Error().Err(err).Str("sessionCode", msg.code).Msg("redis publish failed, delivering locally")
				b.broadcast(msg.code, msg.env)
			}
		}
	}
}

func (b *Broker) subscribeToRedis(ctx context.Context, code string) {
	defer b.wg.Done()

	channel := redisclient.SessionChannel(code)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("sessionCode", code).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env event.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(code, env)
		}
	}
}

func (b *Broker) broadcast(code string, env event.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[code] {
		select {
		case client.Events <- env:
		default:
			b.metrics.BroadcastDropped()
			log.Warn().
				Str("sessionCode", code).
				Str("clientId", client.ID).
				Str("type", env.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]struct{})
	b.subs = make(map[string]context.CancelFunc)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broker) ClientCount(code string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[code])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
