package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/core/engine"
	"github.com/livewatch/livewatch/internal/core/probe"
)

// Directory sources
const (
	DirectorySourceStore = "store"
	DirectorySourceFile  = "file"
)

// Validate checks the decoded configuration for values the server cannot
// run with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port must be in 1..65535, got %d", c.Metrics.Port))
	}
	if driver := strings.ToLower(strings.TrimSpace(c.Store.Driver)); driver != "" && driver != "libsql" {
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	switch strings.ToUpper(strings.TrimSpace(c.Logging.Profile)) {
	case "", "SIMPLE", "STRUCTURED", "ENTERPRISE":
	default:
		errs = append(errs, fmt.Errorf("logging.profile must be SIMPLE, STRUCTURED or ENTERPRISE, got %q", c.Logging.Profile))
	}
	if c.RateLimitMargin <= 0 || c.RateLimitMargin > 1 {
		errs = append(errs, fmt.Errorf("rate_limit_margin must be in (0, 1], got %v", c.RateLimitMargin))
	}

	switch strings.ToLower(strings.TrimSpace(c.Directory.Source)) {
	case DirectorySourceStore:
	case DirectorySourceFile:
		if strings.TrimSpace(c.Directory.File) == "" {
			errs = append(errs, errors.New("directory.file is required when directory.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.source must be %q or %q, got %q", DirectorySourceStore, DirectorySourceFile, c.Directory.Source))
	}

	for name := range c.Platforms {
		if _, err := core.ParsePlatform(name); err != nil {
			errs = append(errs, fmt.Errorf("platforms.%s: %w", name, err))
		}
	}

	if len(errs) == 0 {
		if _, err := c.EngineConfig(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// EnabledPlatforms returns the enabled platforms in display order.
func (c *Config) EnabledPlatforms() []core.Platform {
	out := make([]core.Platform, 0, len(c.Platforms))
	for _, platform := range core.Platforms {
		if pc, ok := c.platform(platform); ok && pc.Enabled {
			out = append(out, platform)
		}
	}
	return out
}

func (c *Config) platform(platform core.Platform) (PlatformConfig, bool) {
	for name, pc := range c.Platforms {
		if p, err := core.ParsePlatform(name); err == nil && p == platform {
			return pc, true
		}
	}
	return PlatformConfig{}, false
}

// EngineConfig converts the loaded settings into the engine's configuration.
// Soft caps left at zero are derived from the hard limit and RateLimitMargin.
func (c *Config) EngineConfig() (engine.Config, error) {
	margin := c.RateLimitMargin
	if margin <= 0 {
		margin = DefaultRateLimitMargin
	}

	platforms := make(map[core.Platform]engine.PlatformPolicy)
	for _, platform := range c.EnabledPlatforms() {
		pc, _ := c.platform(platform)
		softCap := pc.SoftCap
		if softCap <= 0 && pc.HardLimit > 0 {
			softCap = engine.SoftCapFromMargin(pc.HardLimit, margin)
		}
		platforms[platform] = engine.PlatformPolicy{
			MinInterval: pc.MinInterval,
			Quota: engine.QuotaPolicy{
				SoftCap:     softCap,
				HardLimit:   pc.HardLimit,
				Window:      pc.Window,
				RequestCost: pc.RequestCost,
				DailyCap:    pc.DailyCap,
			},
		}
	}
	if len(platforms) == 0 {
		return engine.Config{}, errors.New("no platform is enabled")
	}

	ec := engine.Config{
		Platforms: platforms,
		Priorities: engine.PriorityMultipliers{
			High:   c.Engine.Priorities.High,
			Medium: c.Engine.Priorities.Medium,
			Low:    c.Engine.Priorities.Low,
		},
		Backoff: engine.BackoffPolicy{
			MaxMultiplier:  c.Engine.Backoff.MaxMultiplier,
			FailuresToOpen: c.Engine.Backoff.FailuresToOpen,
			Cooldown:       c.Engine.Backoff.Cooldown,
			MaxCooldown:    c.Engine.Backoff.MaxCooldown,
		},
		TickInterval:       c.Engine.TickInterval,
		Workers:            c.Engine.Workers,
		ProbeTimeout:       c.Engine.ProbeTimeout,
		DirectoryRefresh:   c.Engine.DirectoryRefresh,
		ReportInterval:     c.Engine.ReportInterval,
		HighUsageThreshold: c.Engine.HighUsageThreshold,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return ec, nil
}

// ProbeSettings returns probe settings for every enabled platform.
func (c *Config) ProbeSettings() map[core.Platform]probe.Settings {
	out := make(map[core.Platform]probe.Settings)
	for _, platform := range c.EnabledPlatforms() {
		pc, _ := c.platform(platform)
		out[platform] = probe.Settings{
			BaseURL:           strings.TrimSpace(pc.BaseURL),
			ClientID:          strings.TrimSpace(pc.ClientID),
			Token:             strings.TrimSpace(pc.Token),
			APIKey:            strings.TrimSpace(pc.APIKey),
			RequestsPerSecond: pc.RequestsPerSecond,
			Timeout:           pc.Timeout,
		}
	}
	return out
}

// MissingCredentials lists enabled platforms whose probe lacks the
// credentials its API requires.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for platform, s := range c.ProbeSettings() {
		switch platform {
		case core.PlatformTwitch:
			if s.ClientID == "" || s.Token == "" {
				missing = append(missing, "twitch (client_id, token)")
			}
		case core.PlatformYouTube:
			if s.APIKey == "" {
				missing = append(missing, "youtube (api_key)")
			}
		}
	}
	sort.Strings(missing)
	return missing
}
