// Package config loads the poller configuration in three layers: built-in
// defaults, the user config file and the environment. Runtime overrides
// passed to Load win over all three.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/livewatch/livewatch/internal/appid"
)

var (
	configMu    sync.RWMutex
	appConfig   *Config
	configFile  string
	appIdentity *appidentity.Identity
)

// SetConfigFile pins the user config layer to an explicit file. An empty
// path restores XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

func explicitConfigFile() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configFile
}

// GetConfig returns the configuration from the last successful Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load builds and validates a Config. It is safe to call again on reload.
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	v.SetConfigType("yaml")
	ApplyDefaults(v)

	if err := readUserConfig(v); err != nil {
		return nil, err
	}

	envOverrides, err := loadEnvOverrides()
	if err != nil {
		return nil, err
	}
	for _, layer := range append([]map[string]any{envOverrides}, runtimeOverrides...) {
		if len(layer) == 0 {
			continue
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// readUserConfig reads the file layer. A missing discovered file is fine;
// a missing --config file is not.
func readUserConfig(v *viper.Viper) error {
	if path := explicitConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	for _, candidate := range userConfigCandidates() {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		v.SetConfigFile(candidate)
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &notFound):
			continue
		default:
			return fmt.Errorf("failed to read config file %s: %w", candidate, err)
		}
	}
	return nil
}
