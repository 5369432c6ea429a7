// Package directory provides target directories backed by files or memory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/livewatch/livewatch/internal/core"
)

type rawEntry struct {
	ID       string `yaml:"id"`
	Platform string `yaml:"platform"`
	Channel  string `yaml:"channel"`
	Priority string `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled"`
}

type rawFile struct {
	Targets []rawEntry `yaml:"targets"`
}

// Parse decodes a YAML target list. The document may be a bare sequence or a
// mapping with a "targets" key. Entries with enabled: false are skipped.
func Parse(data []byte) ([]core.DirectoryEntry, error) {
	var raw []rawEntry

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("invalid targets yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid targets yaml: %w", err)
		}
	default:
		var file rawFile
		if err := node.Content[0].Decode(&file); err != nil {
			return nil, fmt.Errorf("invalid targets yaml: %w", err)
		}
		raw = file.Targets
	}

	entries := make([]core.DirectoryEntry, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	var errs []error
	for i, r := range raw {
		if r.Enabled != nil && !*r.Enabled {
			continue
		}
		entry, err := r.entry()
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d: %w", i+1, err))
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			errs = append(errs, fmt.Errorf("target %d: duplicate id %q", i+1, entry.ID))
			continue
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}
	return entries, errors.Join(errs...)
}

func (r rawEntry) entry() (core.DirectoryEntry, error) {
	id := strings.TrimSpace(r.ID)
	channel := strings.TrimSpace(r.Channel)
	if id == "" {
		id = channel
	}
	if id == "" {
		return core.DirectoryEntry{}, errors.New("id or channel is required")
	}
	platform, err := core.ParsePlatform(r.Platform)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	priority, err := core.ParsePriority(r.Priority)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	return core.DirectoryEntry{ID: id, Platform: platform, Channel: channel, Priority: priority}, nil
}

// File re-reads a YAML file on every listing so edits are picked up on the
// next refresh.
type File struct {
	Path string
}

// ListActive reads and parses the file. Any invalid entry fails the listing
// so a typo cannot silently unregister targets.
func (f *File) ListActive(ctx context.Context) ([]core.DirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return entries, nil
}

// Static is an in-memory directory.
type Static struct {
	mu      sync.RWMutex
	entries []core.DirectoryEntry
}

// NewStatic creates a directory with a fixed listing.
func NewStatic(entries ...core.DirectoryEntry) *Static {
	s := &Static{}
	s.Set(entries)
	return s
}

// Set replaces the listing.
func (s *Static) Set(entries []core.DirectoryEntry) {
	s.mu.Lock()
	s.entries = append([]core.DirectoryEntry(nil), entries...)
	s.mu.Unlock()
}

// ListActive returns a copy of the listing.
func (s *Static) ListActive(context.Context) ([]core.DirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.DirectoryEntry(nil), s.entries...), nil
}
