// Package server wires HTTP handlers into a ServeMux for the gateway.
package server

import "net/http"

// SetupRoutes returns a ServeMux with the health check, WebSocket endpoint,
// test page, and metrics routes bound to s.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}
