package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.accessLogMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Operational endpoints (no auth, never blocked)
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metricsHandler())

		r.Group(func(r chi.Router) {
			r.Use(s.clientAddrMiddleware)

			// Credential exchange (Basic and refresh token)
			r.Get("/auth/token", s.handleIssueToken)
			r.Post("/auth/token/refresh", s.handleRefreshToken)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Delete("/auth/token", s.handleRevokeToken)
				r.Delete("/auth/token/{tokenID}", s.handleRevokeToken)

				r.Post("/auth/elevation", s.handleElevate)
				r.Delete("/auth/elevation", s.handleDropElevation)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)
					r.Get("/me", s.handleMe)
					r.Get("/{idOrEmail}", s.handleGetUser)
				})

				r.Route("/projects/{projectID}", func(r chi.Router) {
					r.Get("/permissions", s.handleProjectPermissions)
					r.Get("/permissions/{permission}", s.handleCheckProjectPermission)
					r.Get("/members", s.handleListMembers)
					r.Put("/members/{userID}", s.handleAssignMember)
					r.Delete("/members/{userID}", s.handleUnassignMember)
				})
			})
		})
	})

	return r
}

// handleHealth reports the server, database and optional backend status.
// A database failure is 503; an unhealthy optional backend only degrades.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.db.PingContext(ctx)
		cancel()
		if err != nil {
			checks["database"] = err.Error()
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	for name, backend := range s.backends {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := backend.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
