package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/livewatch/livewatch/internal/appid"
	"github.com/livewatch/livewatch/internal/core"
)

type EnvVarSpec = gfconfig.EnvVarSpec

const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// envBinding maps {PREFIX}<suffix> onto a dotted config key. Durations bind
// as strings and are converted by the decode hook.
type envBinding struct {
	suffix string
	key    string
	kind   gfconfig.EnvVarType
}

var envBindings = []envBinding{
	{"HOST", "server.host", EnvString},
	{"PORT", "server.port", EnvInt},
	{"READ_TIMEOUT", "server.read_timeout", EnvString},
	{"WRITE_TIMEOUT", "server.write_timeout", EnvString},
	{"IDLE_TIMEOUT", "server.idle_timeout", EnvString},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout", EnvString},
	{"ADMIN_TOKEN", "server.admin_token", EnvString},

	{"LOG_LEVEL", "logging.level", EnvString},
	{"LOG_PROFILE", "logging.profile", EnvString},
	{"LOG_FILE", "logging.file", EnvString},

	{"DB_DRIVER", "store.driver", EnvString},
	{"DB_PATH", "store.path", EnvString},
	{"DB_URL", "store.url", EnvString},
	{"DB_AUTH_TOKEN", "store.auth_token", EnvString},

	{"TICK_INTERVAL", "engine.tick_interval", EnvString},
	{"WORKERS", "engine.workers", EnvInt},
	{"PROBE_TIMEOUT", "engine.probe_timeout", EnvString},
	{"DIRECTORY_REFRESH", "engine.directory_refresh", EnvString},
	{"REPORT_INTERVAL", "engine.report_interval", EnvString},

	{"DIRECTORY_SOURCE", "directory.source", EnvString},
	{"DIRECTORY_FILE", "directory.file", EnvString},

	{"TWITCH_CLIENT_ID", "platforms.twitch.client_id", EnvString},
	{"TWITCH_TOKEN", "platforms.twitch.token", EnvString},
	{"YOUTUBE_API_KEY", "platforms.youtube.api_key", EnvString},

	{"METRICS_ENABLED", "metrics.enabled", EnvBool},
	{"METRICS_PORT", "metrics.port", EnvInt},
	{"HEALTH_ENABLED", "health.enabled", EnvBool},
	{"DEBUG_ENABLED", "debug.enabled", EnvBool},
	{"DEBUG_PPROF_ENABLED", "debug.pprof_enabled", EnvBool},
}

// Fields settable through {PREFIX}PLATFORMS_<NAME>_<FIELD>. Bool fields are
// parsed here; the rest go through the decode hooks.
var platformEnvFields = map[string]bool{
	"enabled":             true,
	"daily_cap":           true,
	"min_interval":        false,
	"soft_cap":            false,
	"hard_limit":          false,
	"window":              false,
	"request_cost":        false,
	"base_url":            false,
	"client_id":           false,
	"token":               false,
	"api_key":             false,
	"requests_per_second": false,
	"timeout":             false,
}

func envPrefix() string {
	prefix := appid.EnvPrefix
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return nil
	}
	prefix := envPrefix()
	specs := make([]EnvVarSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, EnvVarSpec{
			Name: prefix + b.suffix,
			Path: strings.Split(b.key, "."),
			Type: b.kind,
		})
	}
	return specs
}

// loadEnvOverrides collects the environment layer: the fixed bindings,
// per-platform overrides and the rate limit margin.
func loadEnvOverrides() (map[string]any, error) {
	overrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if overrides == nil {
		overrides = map[string]any{}
	}

	prefix := envPrefix()
	platformPrefix := prefix + "PLATFORMS_"
	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, platformPrefix) {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			setPlatformOverride(overrides, strings.TrimPrefix(key, platformPrefix), value)
		}
	}

	if raw := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMIT_MARGIN")); raw != "" {
		margin, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		overrides["rate_limit_margin"] = margin
	}
	return overrides, nil
}

// setPlatformOverride applies one <NAME>_<FIELD>=value pair. Unknown
// platforms and fields are ignored.
func setPlatformOverride(overrides map[string]any, suffix, value string) {
	name, field, ok := strings.Cut(strings.TrimSpace(suffix), "_")
	if !ok {
		return
	}
	platform, err := core.ParsePlatform(name)
	if err != nil {
		return
	}
	field = strings.ToLower(field)
	isBool, known := platformEnvFields[field]
	if !known {
		return
	}

	entry := childMap(childMap(overrides, "platforms"), string(platform))
	if isBool {
		entry[field] = strings.EqualFold(value, "true") || value == "1"
		return
	}
	entry[field] = value
}

func childMap(parent map[string]any, key string) map[string]any {
	if existing, ok := parent[key].(map[string]any); ok {
		return existing
	}
	child := map[string]any{}
	parent[key] = child
	return child
}
