package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	votes            *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	broadcastDropped prometheus.Counter
	connections      prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Sessions currently held in memory.",
		}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions created since start.",
		}),
		votes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Votes accepted, by value.",
		}, []string{"vote"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "session_outcomes_total",
			Help: "Sessions reaching a terminal outcome, by kind.",
		}, []string{"outcome"}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "place_search_duration_seconds",
			Help:    "Latency of the place search pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		broadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Events dropped because a client buffer was full.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Open websocket connections.",
		}),
	}
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) VoteRecorded(yes bool) {
	if m == nil {
		return
	}
	label := "no"
	if yes {
		label = "yes"
	}
	m.votes.WithLabelValues(label).Inc()
}

func (m *Metrics) Outcome(kind string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind).Inc()
}

func (m *Metrics) SearchObserved(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
