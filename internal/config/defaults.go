package config

import (
	"github.com/spf13/viper"

	"github.com/livewatch/livewatch/internal/core/engine"
)

// DefaultRateLimitMargin is the share of a hard limit used as soft cap when
// a platform leaves soft_cap at zero.
const DefaultRateLimitMargin = 0.9

// ApplyDefaults registers layer 1 on v.
func ApplyDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	// Store defaults; path is filled from XDG data dir when empty
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Engine defaults
	ec := engine.DefaultConfig()
	v.SetDefault("engine.tick_interval", ec.TickInterval.String())
	v.SetDefault("engine.workers", ec.Workers)
	v.SetDefault("engine.probe_timeout", ec.ProbeTimeout.String())
	v.SetDefault("engine.directory_refresh", ec.DirectoryRefresh.String())
	v.SetDefault("engine.report_interval", ec.ReportInterval.String())
	v.SetDefault("engine.high_usage_threshold", ec.HighUsageThreshold)
	v.SetDefault("engine.priorities.high", ec.Priorities.High)
	v.SetDefault("engine.priorities.medium", ec.Priorities.Medium)
	v.SetDefault("engine.priorities.low", ec.Priorities.Low)
	v.SetDefault("engine.backoff.max_multiplier", ec.Backoff.MaxMultiplier)
	v.SetDefault("engine.backoff.failures_to_open", ec.Backoff.FailuresToOpen)
	v.SetDefault("engine.backoff.cooldown", ec.Backoff.Cooldown.String())
	v.SetDefault("engine.backoff.max_cooldown", ec.Backoff.MaxCooldown.String())

	// Platform defaults
	for platform, policy := range ec.Platforms {
		key := "platforms." + string(platform) + "."
		v.SetDefault(key+"enabled", true)
		v.SetDefault(key+"min_interval", policy.MinInterval.String())
		v.SetDefault(key+"soft_cap", policy.Quota.SoftCap)
		v.SetDefault(key+"hard_limit", policy.Quota.HardLimit)
		v.SetDefault(key+"window", policy.Quota.Window.String())
		v.SetDefault(key+"request_cost", policy.Quota.RequestCost)
		v.SetDefault(key+"daily_cap", policy.Quota.DailyCap)
		v.SetDefault(key+"base_url", "")
		v.SetDefault(key+"requests_per_second", 0)
		v.SetDefault(key+"timeout", "0s")
	}

	// Directory defaults
	v.SetDefault("directory.source", DirectorySourceStore)
	v.SetDefault("directory.file", "")

	v.SetDefault("rate_limit_margin", DefaultRateLimitMargin)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}
