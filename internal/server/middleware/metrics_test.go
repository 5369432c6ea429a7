package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/metrics"
	"github.com/livewatch/livewatch/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})
	return collector
}

// newRouter mounts the livewatch status routes behind RequestMetrics.
func newRouter(status int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestMetrics)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"target_id":"xqc"}`))
		})
	})
	return r
}

func TestRequestMetricsLabelsRoutePattern(t *testing.T) {
	collector := setupTelemetry(t)

	rec := httptest.NewRecorder()
	newRouter(http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/xqc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	requests := collector.GetMetricsByName(RequestsTotalName)
	require.Len(t, requests, 1)
	assert.Equal(t, "/v1/status/{id}", requests[0].Tags["endpoint"])
	assert.Equal(t, "200", requests[0].Tags["status"])
	assert.Equal(t, http.MethodGet, requests[0].Tags["method"])

	assert.Equal(t, 1, collector.CountMetricsByName(RequestDurationName))
	assert.Zero(t, collector.CountMetricsByName(ErrorsTotalName))
}

func TestRequestMetricsCountsErrors(t *testing.T) {
	collector := setupTelemetry(t)

	rec := httptest.NewRecorder()
	newRouter(http.StatusBadGateway).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/xqc", nil))

	errs := collector.GetMetricsByName(ErrorsTotalName)
	require.Len(t, errs, 1)
	assert.Equal(t, "server_error", errs[0].Tags["error_type"])
	assert.Equal(t, "502", errs[0].Tags["status"])
}

func TestRequestMetricsTracksInFlight(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/usage", nil))

	gauges := collector.GetMetricsByName(RequestsInFlightName)
	require.Len(t, gauges, 2)
	assert.Equal(t, float64(1), gauges[0].Value)
	assert.Equal(t, float64(0), gauges[1].Value)
}

func TestRequestMetricsWithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	rec := httptest.NewRecorder()
	newRouter(http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/xqc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rec.status)
	assert.Equal(t, int64(2), rec.bytes)
}

func TestEndpointPatternFallback(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/", "/"},
		{"/health", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/admin/signal", "/admin/signal"},
		{"/v1/usage", "/v1/usage"},
		{"/v1/targets/", "/v1/targets"},
		{"/v1/targets/shroud", "/v1/targets/{id}"},
		{"/v1/status/xqc", "/v1/status/{id}"},
		{"/wp-login.php", "/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expected, EndpointPattern(req))
		})
	}
}

func TestRequestIDReusesSafeHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set(RequestIDHeader, "poll-2024.10_abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "poll-2024.10_abc", seen)
	assert.Equal(t, "poll-2024.10_abc", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDReplacesUnsafeHeader(t *testing.T) {
	for name, value := range map[string]string{
		"newline":  "abc\nlevel=error",
		"too long": strings.Repeat("a", maxRequestIDLength+1),
		"quote":    `abc"def`,
	} {
		t.Run(name, func(t *testing.T) {
			handler := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
			req.Header.Set(RequestIDHeader, value)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			assert.NotEqual(t, value, got)
			assert.True(t, validRequestID(got))
		})
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req.Context()))
}

func TestRecoveryWritesEnvelopeWithoutStack(t *testing.T) {
	collector := setupTelemetry(t)

	r := chi.NewRouter()
	r.Use(RequestID, Recovery)
	r.Get("/v1/targets/{id}", func(http.ResponseWriter, *http.Request) {
		panic("nil directory")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/targets/xqc", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, panicCode, body.Error.Code)
	assert.Equal(t, "req-1", body.Error.RequestID)
	assert.NotContains(t, rec.Body.String(), "goroutine")
	assert.NotContains(t, rec.Body.String(), "nil directory")

	panics := collector.GetMetricsByName(metrics.PanicsTotalName)
	require.Len(t, panics, 1)
	assert.Equal(t, "/v1/targets/{id}", panics[0].Tags["endpoint"])
}

func TestRecoveryLeavesCommittedResponse(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late failure")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/targets", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRecoveryReraisesAbortHandler(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
