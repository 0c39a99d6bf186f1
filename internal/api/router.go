package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joao-cbj/silo-watch-backend/internal/auth"
)

// healthCheckTimeout bounds each dependency check of /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public: health, login, and the endpoints the sensors and the
		// polling gateway call without credentials.
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/readings", s.handleIngestReading)
		r.Get("/silos/config/{identifier}", s.handleSiloConfig)

		if s.relay != nil {
			r.Route("/gateway", func(r chi.Router) {
				r.Get("/commands/{acao}", s.handleRelayCommand)
				r.Put("/responses/{acao}", s.handleRelayResponse)
				r.With(s.authMiddleware, s.requirePermission(auth.PermRelayAdmin)).
					Delete("/paths", s.handleRelayClear)
			})
		}

		// WebSocket authenticates with ?token= in the handler.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			// Flat paths: /silos and /readings also carry public routes, and a
			// mounted subrouter would shadow them.
			read := r.With(s.requirePermission(auth.PermSiloRead))
			read.Get("/silos", s.handleListSilos)
			read.Get("/silos/{id}", s.handleGetSilo)
			read.Get("/readings", s.handleListReadings)
			read.Get("/readings/latest", s.handleLatestReadings)
			read.Get("/readings/metrics", s.handleReadingMetrics)
			read.Get("/readings/{identifier}", s.handleReadingHistory)
			read.Get("/readings/{identifier}/stats", s.handleReadingStats)
			read.Get("/readings/{identifier}/indicators", s.handleReadingIndicators)

			manage := r.With(s.requirePermission(auth.PermSiloManage))
			manage.Post("/silos", s.handleCreateSilo)
			manage.Patch("/silos/{id}", s.handleUpdateSilo)
			manage.Delete("/silos/{id}", s.handleDeleteSilo)

			r.Route("/provisioning", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermGatewayOperate))
				r.Post("/ping", s.handlePing)
				r.Post("/scan", s.handleScan)
				r.Post("/provision", s.handleProvision)
				r.Post("/desintegrate", s.handleDesintegrate)
				r.Post("/rename", s.handleRename)
				r.Get("/commands", s.handleListCommands)
			})

			// Any authenticated user may change their own password; the
			// handler checks user:manage for everyone else's.
			r.Put("/users/{id}/password", s.handleChangePassword)

			users := r.With(s.requirePermission(auth.PermUserManage))
			users.Get("/users", s.handleListUsers)
			users.Post("/users", s.handleCreateUser)
			users.Get("/users/{id}", s.handleGetUser)
			users.Patch("/users/{id}", s.handleUpdateUser)
			users.Delete("/users/{id}", s.handleDeleteUser)
		})
	})

	return r
}

// handleHealth returns the server health status and the state of each
// registered dependency. Any failing dependency makes the status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status := "ok"
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"transport":      s.orch.TransportName(),
		"timeout_policy": s.orch.Policy(),
		"outstanding":    s.registry.Outstanding(),
		"ws_clients":     s.hub.ClientCount(),
		"checks":         checks,
	})
}
