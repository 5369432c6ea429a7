package metrics

import (
	"time"

	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/core/engine"
	"github.com/livewatch/livewatch/internal/observability"
)

// Poller and server metric names. The exporter adds the namespace prefix.
const (
	ProbesTotal         = "probes_total"
	ProbeDuration       = "probe_duration_ms"
	BatchSize           = "scheduler_batch_size"
	TickDuration        = "scheduler_tick_duration_ms"
	QuotaUsed           = "quota_used"
	QuotaCap            = "quota_cap"
	QuotaUtilization    = "quota_utilization_pct"
	CircuitsOpenTargets = "circuits_open"
	EngineEventsTotal   = "engine_events_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// The emit helpers drop samples until telemetry is initialized.

func count(name string, tags map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, tags)
	}
}

func gauge(name string, value float64, tags map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, tags)
	}
}

func observe(name string, d time.Duration, tags map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, tags)
	}
}

func platformTag(p core.Platform) map[string]string {
	return map[string]string{"platform": string(p)}
}

// Recorder is the telemetry-backed engine.Recorder.
type Recorder struct{}

var _ engine.Recorder = Recorder{}

func NewRecorder() Recorder {
	return Recorder{}
}

func (Recorder) ProbeCompleted(platform core.Platform, outcome string, duration time.Duration) {
	count(ProbesTotal, map[string]string{"platform": string(platform), "outcome": outcome})
	observe(ProbeDuration, duration, platformTag(platform))
}

func (Recorder) BatchSelected(size int) {
	gauge(BatchSize, float64(size), nil)
}

func (Recorder) TickCompleted(duration time.Duration) {
	observe(TickDuration, duration, nil)
}

func (Recorder) QuotaObserved(usage core.QuotaUsage) {
	tags := platformTag(usage.Platform)
	gauge(QuotaUsed, float64(usage.Used), tags)
	gauge(QuotaCap, float64(usage.Cap), tags)
	gauge(QuotaUtilization, usage.UtilizationPct, tags)
}

// CircuitsOpen records how many targets are paused by an open circuit.
func (Recorder) CircuitsOpen(n int) {
	gauge(CircuitsOpenTargets, float64(n), nil)
}

func (Recorder) EventPublished(e engine.Event) {
	tags := map[string]string{"type": string(e.Type)}
	if e.Platform != "" {
		tags["platform"] = string(e.Platform)
	}
	count(EngineEventsTotal, tags)
}

// RecordHealthCheck counts one health check run by outcome and times it.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	count(HealthCheckTotal, map[string]string{"check": checkName, "status": status})
	observe(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

func SetServerStartTime(unix int64) {
	gauge(ServerStartTime, float64(unix), nil)
}

func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds), nil)
}
