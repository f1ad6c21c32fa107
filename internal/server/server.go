package server

import (
	"net/http"
	"time"

	"github.com/campuskit/notify/internal/config"
	"github.com/campuskit/notify/internal/middleware"
	"github.com/campuskit/notify/internal/modules/notification"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"log/slog"
)

// New creates and configures a new server instance.
func New(cfg *config.Config, log *slog.Logger, handler *notification.Handler, registry *prometheus.Registry) chi.Router {
	router := chi.NewMux()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(60 * time.Second))

	apiConfig := huma.DefaultConfig("Notification Dispatch Engine", "1.0.0")
	apiConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	api := humachi.New(router, apiConfig)

	// The engine is called by the portal backend; the bearer check is only
	// enforced when a secret is configured.
	if cfg.JWTSecret != "" {
		api.UseMiddleware(middleware.JWTAuthHuma(cfg.JWTSecret, log))
	}

	handler.RegisterRoutes(api)

	// Health and metrics stay outside the API (and its auth).
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return router
}
