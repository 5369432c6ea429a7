package probe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/core/engine"
)

// Settings configures one platform probe.
type Settings struct {
	BaseURL           string
	ClientID          string
	Token             string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New creates the probe for platform.
func New(platform core.Platform, s Settings) (engine.Probe, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	limiter := NewLimiter(s.RequestsPerSecond)

	switch platform {
	case core.PlatformTwitch:
		return NewTwitchProbe(client, limiter, s.BaseURL, s.ClientID, s.Token), nil
	case core.PlatformYouTube:
		return NewYouTubeProbe(client, limiter, s.BaseURL, s.APIKey), nil
	case core.PlatformKick:
		return NewKickProbe(client, limiter, s.BaseURL), nil
	default:
		return nil, fmt.Errorf("no probe for platform %q", platform)
	}
}

// Build creates one probe per configured platform in display order.
func Build(settings map[core.Platform]Settings) ([]engine.Probe, error) {
	probes := make([]engine.Probe, 0, len(settings))
	for _, platform := range core.Platforms {
		s, ok := settings[platform]
		if !ok {
			continue
		}
		p, err := New(platform, s)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}
