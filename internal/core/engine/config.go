package engine

import (
	"fmt"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// PlatformPolicy is the scheduling and quota policy of one platform.
type PlatformPolicy struct {
	MinInterval time.Duration
	Quota       QuotaPolicy
}

// Config holds every tunable of the engine.
type Config struct {
	Platforms          map[core.Platform]PlatformPolicy
	Priorities         PriorityMultipliers
	Backoff            BackoffPolicy
	TickInterval       time.Duration
	Workers            int
	ProbeTimeout       time.Duration
	DirectoryRefresh   time.Duration
	ReportInterval     time.Duration
	HighUsageThreshold float64
}

// DefaultPlatformPolicies returns conservative policies for the supported
// platforms. YouTube search costs 100 units from a 10,000 unit daily budget.
func DefaultPlatformPolicies() map[core.Platform]PlatformPolicy {
	return map[core.Platform]PlatformPolicy{
		core.PlatformTwitch: {
			MinInterval: time.Minute,
			Quota:       QuotaPolicy{SoftCap: 600, HardLimit: 800, Window: time.Minute, RequestCost: 1},
		},
		core.PlatformYouTube: {
			MinInterval: 15 * time.Minute,
			Quota:       QuotaPolicy{SoftCap: 9000, HardLimit: 10000, RequestCost: 100, DailyCap: true},
		},
		core.PlatformKick: {
			MinInterval: 2 * time.Minute,
			Quota:       QuotaPolicy{SoftCap: 60, HardLimit: 100, Window: time.Minute, RequestCost: 1},
		},
	}
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Platforms:          DefaultPlatformPolicies(),
		Priorities:         DefaultPriorityMultipliers(),
		Backoff:            DefaultBackoffPolicy(),
		TickInterval:       30 * time.Second,
		Workers:            8,
		ProbeTimeout:       10 * time.Second,
		DirectoryRefresh:   5 * time.Minute,
		ReportInterval:     10 * time.Minute,
		HighUsageThreshold: DefaultHighUsageThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Platforms) == 0 {
		c.Platforms = d.Platforms
	}
	if c.Priorities == (PriorityMultipliers{}) {
		c.Priorities = d.Priorities
	}
	if c.Backoff == (BackoffPolicy{}) {
		c.Backoff = d.Backoff
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.DirectoryRefresh <= 0 {
		c.DirectoryRefresh = d.DirectoryRefresh
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = d.ReportInterval
	}
	if c.HighUsageThreshold == 0 {
		c.HighUsageThreshold = d.HighUsageThreshold
	}
	return c
}

// Validate rejects configurations the engine cannot run safely.
func (c Config) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("at least one platform must be configured")
	}
	for platform, policy := range c.Platforms {
		if _, err := core.ParsePlatform(string(platform)); err != nil {
			return err
		}
		if policy.MinInterval <= 0 {
			return fmt.Errorf("platform %s: min interval must be positive", platform)
		}
		if err := policy.Quota.Validate(); err != nil {
			return fmt.Errorf("platform %s: %w", platform, err)
		}
	}
	if err := c.Priorities.Validate(); err != nil {
		return err
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("worker pool size must be at least 1, got %d", c.Workers)
	}
	if c.HighUsageThreshold <= 0 || c.HighUsageThreshold > 1 {
		return fmt.Errorf("high usage threshold must be in (0, 1], got %v", c.HighUsageThreshold)
	}
	return nil
}

func (c Config) quotaPolicies() map[core.Platform]QuotaPolicy {
	out := make(map[core.Platform]QuotaPolicy, len(c.Platforms))
	for platform, policy := range c.Platforms {
		out[platform] = policy.Quota
	}
	return out
}

func (c Config) minIntervals() map[core.Platform]time.Duration {
	out := make(map[core.Platform]time.Duration, len(c.Platforms))
	for platform, policy := range c.Platforms {
		out[platform] = policy.MinInterval
	}
	return out
}
