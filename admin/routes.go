package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/sqlrunner/telemetry"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin and, when telemetry is
// enabled, the Prometheus handler at /metrics
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, secret string) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(AuthMiddleware(secret))

	r.Get("/status", handlers.handleStatus)
	r.Get("/databases", handlers.handleListDatabases)
	r.Get("/databases/{handle}", handlers.handleDatabase)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
