package config

import (
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/livewatch/livewatch/internal/appid"
)

// identityNames returns the config and binary names, preferring the loaded
// app identity over the compiled-in ones.
func identityNames() (configName, binaryName string) {
	configName, binaryName = appid.ConfigName, appid.BinaryName
	if appIdentity == nil {
		return configName, binaryName
	}
	if name := strings.TrimSpace(appIdentity.ConfigName); name != "" {
		configName = name
	}
	if name := strings.TrimSpace(appIdentity.BinaryName); name != "" {
		binaryName = name
	}
	return configName, binaryName
}

// userConfigCandidates lists config files in lookup order: the XDG default,
// then gofulmen's app paths, which include the binary name when it differs
// from the config name.
func userConfigCandidates() []string {
	if appIdentity == nil {
		return nil
	}
	configName, binaryName := identityNames()

	var legacy []string
	if binaryName != configName {
		legacy = append(legacy, binaryName)
	}

	var candidates []string
	if path := DefaultConfigPath(); path != "" {
		candidates = append(candidates, path)
	}
	return append(candidates, gfconfig.GetAppConfigPaths(configName, legacy...)...)
}

// DefaultConfigPath is where `doctor init` writes the user config.
func DefaultConfigPath() string {
	configName, _ := identityNames()
	dir := strings.TrimSpace(gfconfig.GetAppConfigDir(configName))
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

func DefaultDataDir() string {
	configName, _ := identityNames()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath is the local database used when neither store.path nor
// store.url is set. It falls back to the working directory without XDG.
func DefaultStorePath() string {
	_, binaryName := identityNames()
	dir := strings.TrimSpace(DefaultDataDir())
	if dir == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dir, binaryName+".db")
}
