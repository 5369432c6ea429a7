package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/livewatch/livewatch/internal/core"
)

const (
	kickSource         = "kick-v2"
	kickDefaultBaseURL = "https://kick.com"
	kickTimeLayout     = "2006-01-02 15:04:05"
)

// KickProbe reads the public channel endpoint.
type KickProbe struct {
	base
}

// NewKickProbe creates a Kick probe.
func NewKickProbe(client *http.Client, limiter *rate.Limiter, baseURL string) *KickProbe {
	return &KickProbe{base: base{Client: client, Limiter: limiter, BaseURL: baseURL}}
}

// Platform returns core.PlatformKick.
func (p *KickProbe) Platform() core.Platform {
	return core.PlatformKick
}

// Check reports whether the channel slug has an active livestream.
func (p *KickProbe) Check(ctx context.Context, channel string) (*core.LiveStatus, error) {
	slug := strings.ToLower(strings.TrimSpace(channel))
	if slug == "" {
		return nil, errors.New("kick channel slug is required")
	}

	reqURL := p.baseURL(kickDefaultBaseURL) + "/api/v2/channels/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("kick request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, rateLimited(core.PlatformKick, resp, p.now(), "")
	case http.StatusNotFound:
		return nil, &StatusError{Platform: core.PlatformKick, StatusCode: resp.StatusCode, Message: "channel not found"}
	default:
		return nil, &StatusError{Platform: core.PlatformKick, StatusCode: resp.StatusCode, Message: "unexpected channel response"}
	}

	var payload struct {
		Livestream *struct {
			IsLive       bool   `json:"is_live"`
			SessionTitle string `json:"session_title"`
			ViewerCount  int    `json:"viewer_count"`
			CreatedAt    string `json:"created_at"`
			Thumbnail    *struct {
				URL string `json:"url"`
			} `json:"thumbnail"`
		} `json:"livestream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode kick channel: %w", err)
	}

	stream := payload.Livestream
	if stream == nil || !stream.IsLive {
		return p.status(false, kickSource), nil
	}

	status := p.status(true, kickSource)
	status.Title = stream.SessionTitle
	viewers := stream.ViewerCount
	status.ViewerCount = &viewers
	if stream.Thumbnail != nil {
		status.ThumbnailURL = stream.Thumbnail.URL
	}
	if started, err := time.ParseInLocation(kickTimeLayout, stream.CreatedAt, time.UTC); err == nil {
		status.StartedAt = &started
	}
	return status, nil
}
