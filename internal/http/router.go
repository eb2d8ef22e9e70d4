// Package http assembles the engine's HTTP surface: handler registration,
// the shared middleware chain, health, and metrics.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/platform/middleware"
	"custodia/pkg/platform/httputil"
)

const requestTimeout = 30 * time.Second

// Registerer mounts one module's endpoints on the router.
type Registerer interface {
	Register(r chi.Router)
}

// HealthChecker reports readiness of one dependency. A nil checker is
// skipped, so optional dependencies (Redis) drop out of health cleanly.
type HealthChecker func(ctx context.Context) error

// NewRouter builds the full router: engine endpoints under /v1, health and
// metrics at the root.
func NewRouter(logger *slog.Logger, health map[string]HealthChecker, handlers ...Registerer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", handleHealth(health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		for _, h := range handlers {
			h.Register(r)
		}
	})

	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			} else {
				body[name] = "ok"
			}
		}
		httputil.WriteJSON(w, status, body)
	}
}
