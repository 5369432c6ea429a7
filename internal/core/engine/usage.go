package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/core"
)

// UsageStatistics aggregates quota consumption and target health at now.
func (o *Orchestrator) UsageStatistics(now time.Time) core.UsageStatistics {
	stats := core.UsageStatistics{
		GeneratedAt:       now,
		TargetsByPlatform: make(map[core.Platform]int),
		TargetsByPriority: make(map[string]int),
	}

	for _, platform := range o.quota.Platforms() {
		stats.Platforms = append(stats.Platforms, o.quota.UsageSnapshot(platform))
	}

	for _, t := range o.targets.List() {
		if t.Disabled {
			continue
		}
		stats.ActiveTargets++
		stats.TargetsByPlatform[t.Platform]++
		stats.TargetsByPriority[t.Priority.String()]++
		if t.CircuitOpen(now) {
			stats.CircuitOpenTargets++
		}
		if t.HalfOpen {
			stats.HalfOpenTargets++
		}
		if t.InFlight {
			stats.InFlightTargets++
		}
	}
	return stats
}

// ReportUsage logs and records current utilization, then persists quota
// windows when a persister is configured.
func (o *Orchestrator) ReportUsage(ctx context.Context) core.UsageStatistics {
	stats := o.UsageStatistics(o.clock())

	for _, usage := range stats.Platforms {
		o.recorder.QuotaObserved(usage)
		o.logger.Info("Quota utilization",
			zap.String("platform", string(usage.Platform)),
			zap.Int("used", usage.Used),
			zap.Int("cap", usage.Cap),
			zap.Float64("utilization_pct", usage.UtilizationPct),
			zap.Bool("exhausted", usage.Exhausted),
			zap.Time("window_end", usage.WindowEnd))
	}
	o.recorder.CircuitsOpen(stats.CircuitOpenTargets)
	o.logger.Info("Target health",
		zap.Int("active", stats.ActiveTargets),
		zap.Int("circuit_open", stats.CircuitOpenTargets),
		zap.Int("half_open", stats.HalfOpenTargets))

	o.persistQuota(ctx)
	return stats
}

func (o *Orchestrator) persistQuota(ctx context.Context) {
	if o.persister == nil {
		return
	}
	if err := o.persister.SaveQuotaStates(ctx, o.quota.States()); err != nil {
		o.logger.Warn("Failed to persist quota windows", zap.Error(err))
	}
}
