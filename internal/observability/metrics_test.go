package observability_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/observability"
)

func TestDecisionCountersExposed(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.DecisionMade(true, authz.ReasonGranted)
	metrics.DecisionMade(false, authz.ReasonNotGranted)
	metrics.ScopeMisconfigured(authz.ScopeCustom)
	metrics.AmbiguousContext()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, req)

	body := res.Body.String()
	require.Contains(t, body, `scopeguard_decisions_total{outcome="allow",reason="granted"} 1`)
	require.Contains(t, body, `scopeguard_decisions_total{outcome="deny",reason="not_granted"} 1`)
	require.Contains(t, body, `scopeguard_scope_misconfigured_total{scope_type="custom"} 1`)
	require.Contains(t, body, "scopeguard_ambiguous_context_total 1")
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	metrics := observability.NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/authorize", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(res.Body.String(), `code="418"`))
}

func TestNilMetricsSafe(t *testing.T) {
	var metrics *observability.Metrics
	metrics.DecisionMade(true, authz.ReasonAdmin)
	metrics.AmbiguousContext()
	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
}
