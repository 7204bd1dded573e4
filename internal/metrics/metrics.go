// Package metrics holds the Prometheus collectors for the remote-control server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stage_remote"

const (
	OutcomeDispatched  = "dispatched"
	OutcomeInvalid     = "invalid"
	OutcomeUnknown     = "unknown"
	OutcomeEmitError   = "emit_error"
	OutcomeRateLimited = "rate_limited"
)

type Metrics struct {
	connectedClients prometheus.Gauge
	sessions         prometheus.Counter
	commands         *prometheus.CounterVec
	broadcasts       prometheus.Counter
	broadcastDrops   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of live WebSocket sessions",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted WebSocket sessions",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Remote commands received, by command type and outcome",
		}, []string{"command", "outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Status snapshots published to subscribers",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Snapshots discarded because a subscriber lagged",
		}),
	}
	reg.MustRegister(m.connectedClients, m.sessions, m.commands, m.broadcasts, m.broadcastDrops)
	return m
}

func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) Command(command, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}
