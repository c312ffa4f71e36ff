package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scopeguard/scopeguard/internal/httpapi"
	"github.com/scopeguard/scopeguard/internal/observability"
	"github.com/scopeguard/scopeguard/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Config     *Config
	Middleware MiddlewareConfig
	API        *httpapi.Handler
	Jobs       *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Middleware) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.API != nil {
		r.Route("/v1", params.API.MountRoutes)
	}
	if params.Jobs != nil {
		r.Route("/jobs", params.Jobs.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
