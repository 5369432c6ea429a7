package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/core"
)

func TestParseMapping(t *testing.T) {
	entries, err := Parse([]byte(`
targets:
  - id: shroud
    platform: twitch
    priority: high
  - id: lofi
    platform: YouTube
    channel: UCSJ4gkVC6NrvII8umztf0Ow
  - channel: xqc
    platform: kick
    priority: low
  - id: retired
    platform: kick
    enabled: false
`))
	require.NoError(t, err)
	require.Equal(t, []core.DirectoryEntry{
		{ID: "shroud", Platform: core.PlatformTwitch, Priority: core.PriorityHigh},
		{ID: "lofi", Platform: core.PlatformYouTube, Channel: "UCSJ4gkVC6NrvII8umztf0Ow", Priority: core.PriorityMedium},
		{ID: "xqc", Platform: core.PlatformKick, Channel: "xqc", Priority: core.PriorityLow},
	}, entries)
}

func TestParseSequence(t *testing.T) {
	entries, err := Parse([]byte(`
- id: shroud
  platform: twitch
`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseReportsInvalidEntries(t *testing.T) {
	entries, err := Parse([]byte(`
targets:
  - id: a
    platform: myspace
  - id: b
    platform: twitch
    priority: urgent
  - id: c
    platform: twitch
  - id: c
    platform: kick
  - platform: kick
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown platform")
	require.Contains(t, err.Error(), "unknown priority")
	require.Contains(t, err.Error(), "duplicate id")
	require.Len(t, entries, 1)
}

func TestParseEmpty(t *testing.T) {
	entries, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileListActive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - id: shroud\n    platform: twitch\n"), 0o644))

	dir := &File{Path: path}
	entries, err := dir.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - id: shroud\n    platform: nope\n"), 0o644))
	_, err = dir.ListActive(context.Background())
	require.Error(t, err)

	_, err = (&File{Path: filepath.Join(t.TempDir(), "missing.yaml")}).ListActive(context.Background())
	require.Error(t, err)
}

func TestStaticCopiesEntries(t *testing.T) {
	dir := NewStatic(core.DirectoryEntry{ID: "a", Platform: core.PlatformKick})
	entries, err := dir.ListActive(context.Background())
	require.NoError(t, err)
	entries[0].ID = "mutated"

	again, _ := dir.ListActive(context.Background())
	require.Equal(t, "a", again[0].ID)
}
