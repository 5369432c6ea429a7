package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/core"
)

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LIVEWATCH_PORT", "3000")
	t.Setenv("LIVEWATCH_LOG_LEVEL", "warn")
	t.Setenv("LIVEWATCH_LOG_FILE", "/var/log/livewatch.json")
	t.Setenv("LIVEWATCH_METRICS_ENABLED", "false")
	t.Setenv("LIVEWATCH_RATE_LIMIT_MARGIN", "0.8")
	t.Setenv("LIVEWATCH_TWITCH_CLIENT_ID", "client-abc")
	t.Setenv("LIVEWATCH_READ_TIMEOUT", "45s")
	t.Setenv("LIVEWATCH_TICK_INTERVAL", "15s")
	t.Setenv("LIVEWATCH_ADMIN_TOKEN", "s3cret")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/var/log/livewatch.json", cfg.Logging.File)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 0.8, cfg.RateLimitMargin)
	assert.Equal(t, "client-abc", cfg.Platforms["twitch"].ClientID)
	assert.Equal(t, time.Minute, cfg.Platforms["twitch"].MinInterval, "credential override keeps other defaults")
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
}

func TestEnvRejectsBadRateLimitMargin(t *testing.T) {
	isolate(t)
	t.Setenv("LIVEWATCH_RATE_LIMIT_MARGIN", "most")

	_, err := Load(context.Background())
	require.ErrorContains(t, err, "rate limit margin")
}

func TestPlatformEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LIVEWATCH_PLATFORMS_KICK_SOFT_CAP", "0")
	t.Setenv("LIVEWATCH_PLATFORMS_KICK_MIN_INTERVAL", "5m")
	t.Setenv("LIVEWATCH_PLATFORMS_YOUTUBE_ENABLED", "false")
	t.Setenv("LIVEWATCH_PLATFORMS_BOGUS_ENABLED", "true")
	t.Setenv("LIVEWATCH_PLATFORMS_KICK_COLOR", "green")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Platforms["kick"].MinInterval)
	assert.False(t, cfg.Platforms["youtube"].Enabled)
	assert.Equal(t, []core.Platform{core.PlatformTwitch, core.PlatformKick}, cfg.EnabledPlatforms())

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	// soft_cap 0 falls back to hard_limit 100 times the 0.9 margin
	assert.Equal(t, 90, ec.Platforms[core.PlatformKick].Quota.SoftCap)
	assert.NotContains(t, ec.Platforms, core.PlatformYouTube)
}

func TestSetPlatformOverride(t *testing.T) {
	overrides := map[string]any{}
	setPlatformOverride(overrides, "TWITCH_DAILY_CAP", "1")
	setPlatformOverride(overrides, "twitch_timeout", "3s")
	setPlatformOverride(overrides, "KICK", "true")
	setPlatformOverride(overrides, "MIXER_ENABLED", "true")

	assert.Equal(t, map[string]any{
		"platforms": map[string]any{
			"twitch": map[string]any{"daily_cap": true, "timeout": "3s"},
		},
	}, overrides)
}

func TestEnvSpecsCoverBindings(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	names := map[string][]string{}
	for _, spec := range getEnvSpecs() {
		names[spec.Name] = spec.Path
	}
	assert.Len(t, names, len(envBindings))
	assert.Equal(t, []string{"logging", "file"}, names["LIVEWATCH_LOG_FILE"])
	assert.Equal(t, []string{"store", "path"}, names["LIVEWATCH_DB_PATH"])
	assert.Equal(t, []string{"platforms", "youtube", "api_key"}, names["LIVEWATCH_YOUTUBE_API_KEY"])
	assert.Equal(t, []string{"metrics", "port"}, names["LIVEWATCH_METRICS_PORT"])
}
