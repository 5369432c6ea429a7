package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/config"
)

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.StoreConfig
		dsn   string
		local bool
	}{
		{
			name: "remote url gets token",
			cfg:  config.StoreConfig{URL: "libsql://poller.turso.io", AuthToken: "token123"},
			dsn:  "libsql://poller.turso.io?authToken=token123",
		},
		{
			name: "remote url keeps other params",
			cfg:  config.StoreConfig{URL: "libsql://poller.turso.io?foo=bar", AuthToken: "token123"},
			dsn:  "libsql://poller.turso.io?authToken=token123&foo=bar",
		},
		{
			name: "remote url keeps its own token",
			cfg:  config.StoreConfig{URL: "libsql://poller.turso.io?authToken=mine", AuthToken: "token123"},
			dsn:  "libsql://poller.turso.io?authToken=mine",
		},
		{
			name: "url wins over path",
			cfg:  config.StoreConfig{URL: "libsql://poller.turso.io", Path: ":memory:"},
			dsn:  "libsql://poller.turso.io",
		},
		{
			name:  "file prefix",
			cfg:   config.StoreConfig{Path: "file:./livewatch.db"},
			dsn:   "file:./livewatch.db",
			local: true,
		},
		{
			name:  "memory",
			cfg:   config.StoreConfig{Path: ":memory:"},
			dsn:   ":memory:",
			local: true,
		},
		{
			name: "libsql path",
			cfg:  config.StoreConfig{Path: "libsql://replica.local"},
			dsn:  "libsql://replica.local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := resolveLocation(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.dsn, loc.dsn)
			assert.Equal(t, tt.local, loc.local)
		})
	}
}

func TestResolveLocationRequiresPathOrURL(t *testing.T) {
	_, err := resolveLocation(config.StoreConfig{Path: "  "})
	require.Error(t, err)
}

func TestResolveLocationCreatesDataDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nested", "livewatch.db")

	loc, err := resolveLocation(config.StoreConfig{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, loc.dsn)
	assert.True(t, loc.file())

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}
