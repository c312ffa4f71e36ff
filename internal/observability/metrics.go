package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scopeguard/scopeguard/internal/authz"
)

// Metrics collects Prometheus metrics for the service and the engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	decisionsTotal     *prometheus.CounterVec
	misconfiguredTotal *prometheus.CounterVec
	ambiguousTotal     prometheus.Counter
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scopeguard_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scopeguard_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scopeguard_decisions_total",
		Help: "Authorization decisions by outcome and reason.",
	}, []string{"outcome", "reason"})
	misconfigured := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scopeguard_scope_misconfigured_total",
		Help: "Data scopes excluded from composition due to bad configuration.",
	}, []string{"scope_type"})
	ambiguous := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scopeguard_ambiguous_context_total",
		Help: "Automatic filtering invocations with no current permission set.",
	})
	registry.MustRegister(requests, duration, decisions, misconfigured, ambiguous)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		decisionsTotal:     decisions,
		misconfiguredTotal: misconfigured,
		ambiguousTotal:     ambiguous,
	}
}

// DecisionMade implements authz.Observer.
func (m *Metrics) DecisionMade(allowed bool, reason authz.Reason) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.decisionsTotal.WithLabelValues(outcome, string(reason)).Inc()
}

// ScopeMisconfigured implements authz.Observer.
func (m *Metrics) ScopeMisconfigured(scopeType authz.ScopeType) {
	if m == nil {
		return
	}
	m.misconfiguredTotal.WithLabelValues(string(scopeType)).Inc()
}

// AmbiguousContext implements authz.Observer.
func (m *Metrics) AmbiguousContext() {
	if m == nil {
		return
	}
	m.ambiguousTotal.Inc()
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collector registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

var _ authz.Observer = (*Metrics)(nil)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
