package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/config"
)

func isolateDoctor(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	config.SetConfigFile("")
	t.Cleanup(func() { config.SetConfigFile("") })
}

func TestDoctorConfigurationAndCredentials(t *testing.T) {
	isolateDoctor(t)
	t.Setenv("LIVEWATCH_TWITCH_CLIENT_ID", "client")
	t.Setenv("LIVEWATCH_TWITCH_TOKEN", "token")

	env := &doctorEnv{ctx: context.Background(), envPrefix: "LIVEWATCH_"}
	result := checkConfiguration(env)
	require.Equal(t, checkOK, result.status, result.detail)
	require.NotNil(t, env.cfg)
	assert.Equal(t, "3 platform(s) enabled", result.detail)

	result = checkCredentials(env)
	assert.Equal(t, checkWarn, result.status)
	assert.Contains(t, result.detail, "youtube (api_key)")
	assert.Contains(t, result.detail, "LIVEWATCH_YOUTUBE_API_KEY")

	t.Setenv("LIVEWATCH_YOUTUBE_API_KEY", "key")
	require.Equal(t, checkOK, checkConfiguration(env).status)
	assert.Equal(t, checkOK, checkCredentials(env).status)
}

func TestDoctorConfigurationFailureHalts(t *testing.T) {
	isolateDoctor(t)
	t.Setenv("LIVEWATCH_DIRECTORY_SOURCE", "consul")

	env := &doctorEnv{ctx: context.Background()}
	result := checkConfiguration(env)
	assert.Equal(t, checkFail, result.status)
	assert.Error(t, result.err)
	assert.Nil(t, env.cfg)

	for _, check := range doctorChecks {
		if check.name == "configuration" {
			assert.True(t, check.halt, "later checks need a loaded config")
		}
	}
}

func TestDoctorTargetDirectoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`targets:
  - id: xqc
    platform: kick
    priority: high
  - id: lofi
    platform: youtube
    channel: UCSJ4gkVC6NrvII8umztf0Ow
`), 0o600))

	env := &doctorEnv{ctx: context.Background(), cfg: &config.Config{
		Directory: config.DirectoryConfig{Source: config.DirectorySourceFile, File: path},
	}}
	result := checkTargetDirectory(env)
	assert.Equal(t, checkOK, result.status, result.detail)
	assert.Equal(t, "2 target(s) in "+path, result.detail)

	env.cfg.Directory.File = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Equal(t, checkFail, checkTargetDirectory(env).status)
}

func TestDoctorTargetDirectoryWithoutStore(t *testing.T) {
	env := &doctorEnv{ctx: context.Background(), cfg: &config.Config{
		Directory: config.DirectoryConfig{Source: config.DirectorySourceStore},
	}}
	result := checkTargetDirectory(env)
	assert.Equal(t, checkWarn, result.status)
	assert.Contains(t, result.detail, "store unavailable")
}

func TestRemoveDatabaseFiles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "livewatch.db")
	for _, path := range []string{db, db + "-wal"} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}

	removed, err := removeDatabaseFiles("file:" + db)
	require.NoError(t, err)
	assert.Equal(t, []string{db, db + "-wal"}, removed)
	assert.NoFileExists(t, db)

	removed, err = removeDatabaseFiles(":memory:")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
	assert.Equal(t, "3.0 GB", formatFileSize(3*1024*1024*1024))
}

func TestInitConfigUsesEnvPrefix(t *testing.T) {
	rendered := buildInitConfig("LW_")
	assert.Contains(t, rendered, "# or LW_TWITCH_CLIENT_ID")
	assert.NotContains(t, rendered, "${PREFIX}")
}
