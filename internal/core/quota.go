package core

import "time"

// QuotaState captures per-platform request accounting for one window.
type QuotaState struct {
	Platform          Platform      `json:"platform"`
	WindowStart       time.Time     `json:"window_start"`
	WindowLength      time.Duration `json:"window_length"`
	RequestCount      int           `json:"request_count"`
	SoftCap           int           `json:"soft_cap"`
	DailyCap          bool          `json:"daily_cap,omitempty"`
	Exhausted         bool          `json:"exhausted,omitempty"`
	HighUsageNotified bool          `json:"high_usage_notified,omitempty"`
	BackoffUntil      *time.Time    `json:"backoff_until,omitempty"`
	Last429At         *time.Time    `json:"last_429_at,omitempty"`
}

// WindowEnd returns when the current window expires.
func (q QuotaState) WindowEnd() time.Time {
	return q.WindowStart.Add(q.WindowLength)
}

// QuotaUsage is a read-only view of a platform's consumption.
type QuotaUsage struct {
	Platform       Platform   `json:"platform"`
	Used           int        `json:"used"`
	Cap            int        `json:"cap"`
	UtilizationPct float64    `json:"utilization_pct"`
	Exhausted      bool       `json:"exhausted"`
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	BackoffUntil   *time.Time `json:"backoff_until,omitempty"`
}

// UsageStatistics aggregates quota and target state for observability.
type UsageStatistics struct {
	GeneratedAt        time.Time        `json:"generated_at"`
	Platforms          []QuotaUsage     `json:"platforms"`
	ActiveTargets      int              `json:"active_targets"`
	CircuitOpenTargets int              `json:"circuit_open_targets"`
	HalfOpenTargets    int              `json:"half_open_targets"`
	InFlightTargets    int              `json:"in_flight_targets"`
	TargetsByPlatform  map[Platform]int `json:"targets_by_platform"`
	TargetsByPriority  map[string]int   `json:"targets_by_priority"`
}
