package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/observability"
	"github.com/backresidences/billing/internal/rbac"
	"github.com/backresidences/billing/internal/shared"
	"github.com/backresidences/billing/jobs"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	BillingHandler     *billing.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	RBACMiddleware     rbac.Middleware
	Metrics            *observability.Metrics
	Health             map[string]HealthCheck
}

// NewRouter constructs the chi.Router with billing API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for name, check := range params.Health {
			if err := check(r); err != nil {
				params.Logger.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","failing":"` + name + `"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.BillingHandler != nil {
		params.BillingHandler.MountRoutes(r)
	}
	if params.PermissionsHandler != nil {
		r.Route("/rbac", params.PermissionsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAny(shared.PermBillingInterestRun, shared.PermBillingInvoicesGenerate))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
