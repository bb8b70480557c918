package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the dependency checks behind GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/pumps", func(r chi.Router) {
			r.Get("/", s.handleListPumps)
			r.Put("/", s.handleReplacePumps)
			r.Put("/{channel}", s.handleBindPump)
		})

		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", s.handleListRecipes)
			r.Get("/{name}", s.handleGetRecipe)
			r.Put("/{name}/favorite", s.handleSetFavorite)
		})

		r.Post("/dispense", s.handleDispense)
		r.Route("/dispenses", func(r chi.Router) {
			r.Get("/", s.handleListDispenses)
			r.Get("/active", s.handleActiveDispenses)
			r.Get("/{id}", s.handleGetDispense)
			r.Delete("/{id}", s.handleCancelDispense)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/prime", s.handlePrime)
			r.Post("/clean", s.handleClean)
			r.Post("/pour", s.handlePour)
		})
		r.Post("/stop", s.handleStop)

		r.Get("/ws", s.handleStream)
	})

	return r
}

// handleHealth reports liveness and the state of optional dependencies.
// A failing database makes the dispenser degraded, not down: it still pours.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	status := "ok"
	if s.db != nil {
		checks["database"] = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
		}
	}
	if s.mqtt != nil {
		checks["mqtt"] = "ok"
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			checks["mqtt"] = err.Error()
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"dry_run": s.service.Config().DryRun,
		"checks":  checks,
	})
}
