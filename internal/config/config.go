package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layer 1: built-in defaults (ApplyDefaults)
// Layer 2: user config file (~/.config/livewatch/config.yaml or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Store     StoreConfig               `mapstructure:"store"`
	Engine    EngineConfig              `mapstructure:"engine"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Directory DirectoryConfig           `mapstructure:"directory"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Health    HealthConfig              `mapstructure:"health"`
	Debug     DebugConfig               `mapstructure:"debug"`

	// RateLimitMargin derives soft caps from hard limits when a platform
	// does not set soft_cap explicitly.
	RateLimitMargin float64 `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// EngineConfig tunes the polling engine.
type EngineConfig struct {
	TickInterval       time.Duration  `mapstructure:"tick_interval"`
	Workers            int            `mapstructure:"workers"`
	ProbeTimeout       time.Duration  `mapstructure:"probe_timeout"`
	DirectoryRefresh   time.Duration  `mapstructure:"directory_refresh"`
	ReportInterval     time.Duration  `mapstructure:"report_interval"`
	HighUsageThreshold float64        `mapstructure:"high_usage_threshold"`
	Priorities         PriorityConfig `mapstructure:"priorities"`
	Backoff            BackoffConfig  `mapstructure:"backoff"`
}

// PriorityConfig holds the interval multiplier of each priority tier.
type PriorityConfig struct {
	High   int `mapstructure:"high"`
	Medium int `mapstructure:"medium"`
	Low    int `mapstructure:"low"`
}

// BackoffConfig controls failure backoff and the circuit breaker.
type BackoffConfig struct {
	MaxMultiplier  int           `mapstructure:"max_multiplier"`
	FailuresToOpen int           `mapstructure:"failures_to_open"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MaxCooldown    time.Duration `mapstructure:"max_cooldown"`
}

// PlatformConfig describes one streaming platform: its quota rules and the
// credentials its probe needs.
type PlatformConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval"`

	// Quota
	SoftCap     int           `mapstructure:"soft_cap"`
	HardLimit   int           `mapstructure:"hard_limit"`
	Window      time.Duration `mapstructure:"window"`
	RequestCost int           `mapstructure:"request_cost"`
	DailyCap    bool          `mapstructure:"daily_cap"`

	// Probe
	BaseURL           string        `mapstructure:"base_url"`
	ClientID          string        `mapstructure:"client_id"`
	Token             string        `mapstructure:"token"`
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// DirectoryConfig selects where the list of watched channels comes from.
type DirectoryConfig struct {
	// Source is "store" (tracked_targets table) or "file" (YAML).
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`

	// File optionally mirrors server logs as JSON into a rotated file
	File string `mapstructure:"file"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
