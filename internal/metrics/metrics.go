// Package metrics provides Prometheus metrics for wscat.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wscat"
)

// Metrics contains all Prometheus metrics for a wscat run.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Data transfer metrics
	BytesTransferred *prometheus.CounterVec // direction: forward, reverse
	MessagesRead     prometheus.Counter

	// WebSocket metrics
	UpgradesTotal   prometheus.Counter
	HandshakeErrors prometheus.Counter
	PingsSent       prometheus.Counter
	PingTimeouts    prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec // kind: connect, handshake, io, ...
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry creates a Metrics instance registered with the
// given registerer. Tests pass a private registry to avoid collisions.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions started.",
		}),
		BytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Bytes pumped through transfers by direction.",
		}, []string{"direction"}),
		MessagesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_read_total",
			Help:      "WebSocket messages consumed by readers.",
		}),
		UpgradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_upgrades_total",
			Help:      "Successful WebSocket upgrades, server and client side.",
		}),
		HandshakeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_handshake_errors_total",
			Help:      "Failed WebSocket handshakes.",
		}),
		PingsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_pings_sent_total",
			Help:      "Keepalive pings sent.",
		}),
		PingTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_ping_timeouts_total",
			Help:      "Keepalive pings that did not receive a pong in time.",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Session errors by classification.",
		}, []string{"kind"}),
	}
}
