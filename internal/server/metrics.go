// Package server collects Prometheus metrics for the chat service: session
// presence, routed message volume, and authentication failures.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records chat activity into a Prometheus registry. A nil *Metrics
// is valid and records nothing, so tests can run components without one.
type Metrics struct {
	connectedSessions prometheus.Gauge
	messagesRouted    *prometheus.CounterVec
	authFailures      *prometheus.CounterVec
}

// NewMetrics creates the chat collectors and registers them on the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connected_sessions",
			Help: "Number of currently registered chat sessions.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages routed by the hub, by message kind.",
		}, []string{"kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Total failed login attempts, by failure reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.connectedSessions,
		m.messagesRouted,
		m.authFailures,
	)

	return m
}

func (m *Metrics) sessionJoined(online int) {
	if m == nil {
		return
	}
	m.connectedSessions.Set(float64(online))
}

func (m *Metrics) sessionLeft(online int) {
	if m == nil {
		return
	}
	m.connectedSessions.Set(float64(online))
}

func (m *Metrics) messageRouted(kind string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(kind).Inc()
}

func (m *Metrics) authFailed(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// MetricsHandler returns the HTTP handler serving the Prometheus scrape
// endpoint for the given gatherer.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
