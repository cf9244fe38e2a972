// Package server wires HTTP handlers into a ServeMux for the WhisperChat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket chat endpoint, Prometheus metrics, and
// the protocol test page. The gatherer may be nil to skip the metrics route.
func SetupRoutes(hub *Hub, store *CredentialStore, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub, store))
	mux.HandleFunc("/test", TestPageHandler)
	if gatherer != nil {
		mux.Handle("/metrics", MetricsHandler(gatherer))
	}
	return mux
}
