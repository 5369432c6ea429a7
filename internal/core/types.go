package core

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a streaming platform that can be polled.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformTwitch, PlatformYouTube, PlatformKick}

// ParsePlatform normalizes a platform name and rejects unknown values.
func ParsePlatform(value string) (Platform, error) {
	normalized := Platform(strings.ToLower(strings.TrimSpace(value)))
	for _, p := range Platforms {
		if p == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform: %q", value)
}

// Priority controls how aggressively a target is polled.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the known tiers.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority accepts high/medium/low (case-insensitive). Empty means medium.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high", "h":
		return PriorityHigh, nil
	case "", "medium", "med", "m", "normal":
		return PriorityMedium, nil
	case "low", "l":
		return PriorityLow, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority: %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Target is the scheduling record for one watched channel.
type Target struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	Channel  string   `json:"channel"`
	Priority Priority `json:"priority"`

	BaseInterval      time.Duration `json:"base_interval"`
	EffectiveInterval time.Duration `json:"effective_interval"`

	LastCheckedAt  time.Time `json:"last_checked_at,omitempty"`
	NextEligibleAt time.Time `json:"next_eligible_at"`

	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
	CircuitReopens      int        `json:"circuit_reopens,omitempty"`
	HalfOpen            bool       `json:"half_open,omitempty"`
	InFlight            bool       `json:"in_flight,omitempty"`
	Disabled            bool       `json:"disabled,omitempty"`
}

// CircuitOpen reports whether the circuit is open at now.
func (t Target) CircuitOpen(now time.Time) bool {
	return t.CircuitOpenUntil != nil && now.Before(*t.CircuitOpenUntil)
}

// DirectoryEntry is one channel reported by a target directory.
type DirectoryEntry struct {
	ID       string   `json:"id" yaml:"id"`
	Platform Platform `json:"platform" yaml:"platform"`
	Channel  string   `json:"channel,omitempty" yaml:"channel,omitempty"`
	Priority Priority `json:"priority" yaml:"priority"`
}

// ChannelOrID returns the platform-side identifier, defaulting to the ID.
func (e DirectoryEntry) ChannelOrID() string {
	if strings.TrimSpace(e.Channel) != "" {
		return strings.TrimSpace(e.Channel)
	}
	return strings.TrimSpace(e.ID)
}

// LiveStatus is the outcome of a successful live check.
type LiveStatus struct {
	IsLive       bool       `json:"is_live"`
	Title        string     `json:"title,omitempty"`
	ViewerCount  *int       `json:"viewer_count,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
	CheckID      string     `json:"check_id,omitempty"`
	Source       string     `json:"source,omitempty"`
}

// StoredStatus is a persisted live status for a target.
type StoredStatus struct {
	TargetID string     `json:"target_id"`
	Platform Platform   `json:"platform,omitempty"`
	Status   LiveStatus `json:"status"`
	LiveFrom *time.Time `json:"live_from,omitempty"`
}

// Transition records a live/offline change for a target.
type Transition struct {
	TargetID   string    `json:"target_id"`
	IsLive     bool      `json:"is_live"`
	Title      string    `json:"title,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
