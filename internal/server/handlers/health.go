package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/livewatch/livewatch/internal/errors"
	"github.com/livewatch/livewatch/internal/metrics"
)

// Check results
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type degradedError struct{ err error }

func (d degradedError) Error() string { return d.err.Error() }
func (d degradedError) Unwrap() error { return d.err }

// Degraded marks a checker error as degraded rather than unhealthy. Degraded
// checks never fail a probe.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err: err}
}

type probeKind struct {
	name    string
	timeout time.Duration
	// liveOnly restricts the probe to checkers registered for liveness.
	liveOnly bool
}

var (
	probeAggregate = probeKind{name: "aggregate", timeout: 5 * time.Second}
	probeLive      = probeKind{name: "live", timeout: 2 * time.Second, liveOnly: true}
	probeReady     = probeKind{name: "ready", timeout: 5 * time.Second}
	probeStartup   = probeKind{name: "startup", timeout: 3 * time.Second}
)

type registeredChecker struct {
	checker  HealthChecker
	liveness bool
}

// HealthManager runs registered checkers for the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]registeredChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]registeredChecker),
		version:  version,
	}
}

// RegisterChecker registers a checker for readiness, startup and the
// aggregate endpoint.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterLivenessChecker registers a checker that also gates liveness. Only
// failures that a restart would fix belong here.
func (hm *HealthManager) RegisterLivenessChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, liveness bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = registeredChecker{checker: checker, liveness: liveness}
}

// runHealthChecks executes the checkers selected by kind in name order.
func (hm *HealthManager) runHealthChecks(ctx context.Context, kind probeKind) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	selected := make(map[string]HealthChecker, len(hm.checkers))
	for name, rc := range hm.checkers {
		if kind.liveOnly && !rc.liveness {
			continue
		}
		names = append(names, name)
		selected[name] = rc.checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = StatusTimeout
			continue
		}
		start := time.Now()
		err := selected[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))

		var degraded degradedError
		switch {
		case err == nil:
			checks[name] = StatusHealthy
		case stderrors.As(err, &degraded):
			checks[name] = StatusDegraded
		default:
			checks[name] = StatusUnhealthy
		}
	}
	return checks
}

// determineOverallStatus folds check results into one status.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, kind probeKind) {
	checkCtx, cancel := context.WithTimeout(r.Context(), kind.timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx, kind)
	status := hm.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		envelope := apperrors.NewUnavailableError(kind.name + " health check failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, kind.name, status, checks))
		return
	}

	now := time.Now().UTC()
	if kind == probeAggregate {
		respondJSON(w, http.StatusOK, HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: now.Format(time.RFC3339),
			Checks:    checks,
		})
		return
	}
	respondJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: now, Checks: checks})
}

// HealthHandler serves the aggregate status of every checker.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeAggregate)
}

// LivenessHandler reports whether the process should keep running.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeLive)
}

// ReadinessHandler reports whether the poller and its store can serve.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeReady)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeStartup)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	contextData := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(failing) > 0 {
		contextData["unhealthy_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(kind probeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			hm.serveProbe(w, r, kind)
			return
		}
		envelope := apperrors.NewUnavailableError("health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, kind.name, "unknown", nil))
	}
}

// Handlers bound to the global manager, mounted by the server.
var (
	HealthHandler    = withGlobalManager(probeAggregate)
	LivenessHandler  = withGlobalManager(probeLive)
	ReadinessHandler = withGlobalManager(probeReady)
	StartupHandler   = withGlobalManager(probeStartup)
)
