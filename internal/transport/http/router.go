package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datalens/internal/config"
	"datalens/internal/middleware"
	"datalens/internal/services"
)

// NewRouter assembles the middleware chain and mounts the API.
func NewRouter(cfg *config.Config, service *services.AnalysisService, logger *slog.Logger, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	if cfg.Security.EnableCORS {
		r.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	}
	if cfg.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, logger)
		r.Use(limiter.Handler)
	}
	metrics := middleware.NewMetrics(registry)
	r.Use(metrics.Handler)

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := NewAnalysisHandler(service, logger, cfg.Upload.MaxBytes)
	r.Mount("/api", handler.Routes())

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"status": "ok"})
}
