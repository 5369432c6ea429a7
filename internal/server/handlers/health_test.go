package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/livewatch/livewatch/internal/errors"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(context.Context) error {
	return s.err
}

func hit(t *testing.T, handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandlerAggregatesChecks(t *testing.T) {
	manager := NewHealthManager("0.4.0")
	manager.RegisterChecker("store", stubChecker{})
	manager.RegisterLivenessChecker("poller", stubChecker{})

	rec := hit(t, manager.HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "0.4.0", resp.Version)
	assert.Equal(t, map[string]string{"store": StatusHealthy, "poller": StatusHealthy}, resp.Checks)
}

func TestReadinessFailsWhenStoreIsDown(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("store", stubChecker{err: errors.New("database is locked")})
	manager.RegisterLivenessChecker("poller", stubChecker{})

	rec := hit(t, manager.ReadinessHandler, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeUnavailable, resp.Error.Code)
	assert.Equal(t, "ready", resp.Error.Details["probe"])
	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, checks["store"])

	// A broken store is not a reason to restart the process.
	live := hit(t, manager.LivenessHandler, "/health/live")
	require.Equal(t, http.StatusOK, live.Code)
	var liveResp ProbeResponse
	require.NoError(t, json.NewDecoder(live.Body).Decode(&liveResp))
	assert.Equal(t, map[string]string{"poller": StatusHealthy}, liveResp.Checks)
}

func TestLivenessFailsWhenPollerStops(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterLivenessChecker("poller", stubChecker{err: errors.New("poller is not running")})

	rec := hit(t, manager.LivenessHandler, "/health/live")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDegradedCheckStaysAvailable(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterLivenessChecker("poller", stubChecker{err: Degraded(errors.New("rate limited: youtube"))})

	for _, handler := range []http.HandlerFunc{manager.HealthHandler, manager.LivenessHandler, manager.ReadinessHandler, manager.StartupHandler} {
		rec := hit(t, handler, "/health")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

	assert.Equal(t, StatusHealthy, manager.determineOverallStatus(nil))
	assert.Equal(t, StatusDegraded, manager.determineOverallStatus(map[string]string{"store": StatusTimeout}))
	assert.Equal(t, StatusUnhealthy, manager.determineOverallStatus(map[string]string{"store": StatusDegraded, "poller": StatusUnhealthy}))
}

func TestGlobalHandlersWithoutManager(t *testing.T) {
	previous := globalHealthManager
	globalHealthManager = nil
	t.Cleanup(func() { globalHealthManager = previous })

	rec := hit(t, ReadinessHandler, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	InitHealthManager("dev")
	GetHealthManager().RegisterChecker("store", stubChecker{})
	rec = hit(t, ReadinessHandler, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDegradedNil(t *testing.T) {
	assert.NoError(t, Degraded(nil))
	err := Degraded(errors.New("rate limited"))
	assert.EqualError(t, err, "rate limited")
}
