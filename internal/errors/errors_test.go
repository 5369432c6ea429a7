package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/metrics"
	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:     http.StatusBadRequest,
		CodeValidation:       http.StatusBadRequest,
		CodeNotFound:         http.StatusNotFound,
		CodeMethodNotAllowed: http.StatusMethodNotAllowed,
		CodeConflict:         http.StatusConflict,
		CodeExternalService:  http.StatusBadGateway,
		CodeDatabase:         http.StatusInternalServerError,
		CodeUnavailable:      http.StatusServiceUnavailable,
		CodeInternal:         http.StatusInternalServerError,
		"SOMETHING_ELSE":     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestWrapUsesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-123")

	env := WrapDatabaseError(ctx, stderrors.New("disk full"), "could not save target")

	assert.Equal(t, CodeDatabase, env.Code)
	assert.Equal(t, "could not save target", env.Message)
	assert.Equal(t, "req-123", env.CorrelationID)
	assert.Equal(t, "disk full", env.Context["wrapped_error"])
}

func TestEnsureEnvelope(t *testing.T) {
	existing := NewNotFoundError("no such target")
	assert.Same(t, existing, EnsureEnvelope(existing))

	plain := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, "boom", plain.Context["wrapped_error"])

	assert.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}

func TestRespondWithEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/targets/missing", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDContextKey, "req-abc"))
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewNotFoundError("target missing not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "target missing not found", resp.Error.Message)
	assert.Equal(t, "req-abc", resp.Error.RequestID)
}

func TestResponseDetailsMergesContext(t *testing.T) {
	assert.Nil(t, ResponseDetails(nil))
	assert.Nil(t, ResponseDetails(NewInternalError("x")))

	env := WrapInvalidInput(context.Background(), stderrors.New("bad platform"), "invalid target")
	details := ResponseDetails(env)
	assert.Equal(t, "bad platform", details["wrapped_error"])
}

func TestNewAppliesDefaultSeverity(t *testing.T) {
	assert.Equal(t, gferrors.SeverityInfo, NewNotFoundError("target gone").Severity)
	assert.Equal(t, gferrors.SeverityMedium, NewExternalServiceError("helix down").Severity)
	assert.Equal(t, gferrors.SeverityCritical, NewConfigInvalidError("no api key").Severity)
	assert.Equal(t, gferrors.SeverityHigh, New("QUOTA_LEDGER_CORRUPT", "x").Severity)
	assert.Equal(t, gferrors.SeverityCritical, EnsureEnvelope(nil).Severity)
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	env := WrapInternal(context.Background(), stderrors.New("from context"), "boom")
	env = env.WithDetails(map[string]interface{}{"wrapped_error": "from details", "platform": "kick"})

	details := ResponseDetails(env)
	assert.Equal(t, "from details", details["wrapped_error"])
	assert.Equal(t, "kick", details["platform"])
}

func TestWrapWithoutRequestIDGeneratesOne(t *testing.T) {
	env := Wrap(context.Background(), CodeUnavailable, nil, "engine stopped")
	assert.NotEmpty(t, env.CorrelationID)
	assert.Equal(t, env.CorrelationID, env.TraceID)
	assert.Nil(t, env.Context)
}

func TestRespondWithEnvelopeLabelsRoutePattern(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	previous := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = previous })

	router := chi.NewRouter()
	router.Delete("/v1/targets/{id}", func(w http.ResponseWriter, r *http.Request) {
		RespondWithEnvelope(w, r, NewNotFoundError("target not found: "+chi.URLParam(r, "id")))
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/targets/xqc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	byEndpoint := collector.GetMetricsByName(metrics.ErrorsByEndpointName)
	require.Len(t, byEndpoint, 1)
	assert.Equal(t, "/v1/targets/{id}", byEndpoint[0].Tags["endpoint"])
	assert.Equal(t, CodeNotFound, byEndpoint[0].Tags["error_code"])

	totals := collector.GetMetricsByName(metrics.ErrorsTotalName)
	require.Len(t, totals, 1)
	assert.Equal(t, "404", totals[0].Tags["http_status"])
}
