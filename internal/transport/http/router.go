// Package httptransport assembles the full HTTP surface: the guarded write
// endpoint, the admin integrity endpoints, and the operational routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dedupHandler "registrar/internal/dedup/handler"
	writesHandler "registrar/internal/idempotency/handler"
	"registrar/internal/platform/middleware"
)

// HealthChecker reports readiness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps collects everything the router mounts. Health checkers may be nil
// when the corresponding backend is not configured.
type Deps struct {
	Logger    *slog.Logger
	Writes    *writesHandler.Handler
	Integrity *dedupHandler.Handler
	Redis     HealthChecker
	Postgres  HealthChecker
}

// NewRouter wires the global middleware chain and mounts every surface.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))

	deps.Writes.Register(r)
	deps.Integrity.Register(r)

	r.Get("/healthz", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for name, checker := range map[string]HealthChecker{
			"redis":    deps.Redis,
			"postgres": deps.Postgres,
		} {
			if checker == nil {
				continue
			}
			if err := checker.Health(ctx); err != nil {
				deps.Logger.ErrorContext(ctx, "health check failed",
					"dependency", name,
					"error", err,
				)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
