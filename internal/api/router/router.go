// Package router assembles the HTTP surface: webhook endpoints, health,
// and metrics behind the shared middleware stack.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inkflow-ai/studio-platform/internal/http/handlers"
	httpmiddleware "github.com/inkflow-ai/studio-platform/internal/http/middleware"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Webhooks       *handlers.WebhookHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", cfg.Webhooks.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/message", cfg.Webhooks.HandleMessage)
		r.Post("/calendar", cfg.Webhooks.HandleCalendar)
		r.Post("/payment", cfg.Webhooks.HandlePayment)
	})

	return r
}
