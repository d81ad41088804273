package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensorbridge/internal/supervisor"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes; open when no signing secret is configured
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/connection", s.handleConnection)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/{id}", s.handleGetDevice)
				r.Get("/{id}/history", s.handleDeviceHistory)
			})

			r.Get("/subscriptions", s.handleListSubscriptions)
			r.Get("/audit", s.handleListAudit)

			// Live lane values
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the bridge health status. The status is "ok" while
// the notification channel streams and "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	resp := map[string]any{
		"version": s.version,
	}
	if s.connection != nil {
		state := s.connection.GetStats().State
		resp["connection"] = state
		if state != supervisor.StateStreaming {
			status = "degraded"
		}
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp["mqtt_connected"] = connected
		if !connected {
			status = "degraded"
		}
	}
	resp["status"] = status
	writeJSON(w, http.StatusOK, resp)
}

// handleConnection returns the supervisor's view of the notification channel.
func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	if s.connection == nil {
		writeUnavailable(w, "connection supervisor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.connection.GetStats())
}
