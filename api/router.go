// Package api exposes the checkpoint workflow over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c360studio/hitlflow/metrics"
	"github.com/c360studio/hitlflow/workflow"
)

// NewRouter creates the chi router with all routes and middleware.
// metricsCollector may be nil, in which case /metrics is not mounted.
// delegates may be nil when delegate health is not tracked.
func NewRouter(runner *workflow.Runner, metricsCollector *metrics.Collector, delegates DelegateHealth, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))
	r.Use(Metrics(metricsCollector))

	healthH := NewHealthHandler(runner.Engine(), delegates)
	sessionH := NewSessionHandler(runner, logger)

	r.Get("/health", healthH.Health)
	if metricsCollector != nil {
		r.Method(http.MethodGet, "/metrics", metricsCollector.Handler())
	}

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/apply", sessionH.Apply)
		r.Post("/run", sessionH.Run)
		r.Post("/retry", sessionH.Retry)
		r.Get("/history", sessionH.History)
		r.Get("/suggestions", sessionH.Suggestions)
	})

	return r
}
