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
	twitchSource         = "twitch-helix"
	twitchDefaultBaseURL = "https://api.twitch.tv"
	twitchThumbnailSize  = "640x360"
)

// TwitchProbe checks stream state through the Helix streams endpoint.
type TwitchProbe struct {
	base
	ClientID string
	Token    string
}

// NewTwitchProbe creates a Helix probe.
func NewTwitchProbe(client *http.Client, limiter *rate.Limiter, baseURL, clientID, token string) *TwitchProbe {
	return &TwitchProbe{
		base:     base{Client: client, Limiter: limiter, BaseURL: baseURL},
		ClientID: clientID,
		Token:    token,
	}
}

// Platform returns core.PlatformTwitch.
func (p *TwitchProbe) Platform() core.Platform {
	return core.PlatformTwitch
}

// Check reports whether the login is streaming.
func (p *TwitchProbe) Check(ctx context.Context, channel string) (*core.LiveStatus, error) {
	login := strings.ToLower(strings.TrimSpace(channel))
	if login == "" {
		return nil, errors.New("twitch login is required")
	}
	if strings.TrimSpace(p.ClientID) == "" {
		return nil, errors.New("twitch client id is not configured")
	}

	reqURL := p.baseURL(twitchDefaultBaseURL) + "/helix/streams?" + url.Values{"user_login": {login}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", p.ClientID)
	if token := strings.TrimSpace(p.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("twitch request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, rateLimited(core.PlatformTwitch, resp, p.now(), "helix bucket empty")
	default:
		return nil, &StatusError{Platform: core.PlatformTwitch, StatusCode: resp.StatusCode, Message: "unexpected helix response"}
	}

	var payload struct {
		Data []struct {
			UserLogin    string    `json:"user_login"`
			Type         string    `json:"type"`
			Title        string    `json:"title"`
			ViewerCount  int       `json:"viewer_count"`
			StartedAt    time.Time `json:"started_at"`
			ThumbnailURL string    `json:"thumbnail_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode helix streams: %w", err)
	}

	for _, stream := range payload.Data {
		if stream.Type != "live" {
			continue
		}
		status := p.status(true, twitchSource)
		status.Title = stream.Title
		viewers := stream.ViewerCount
		status.ViewerCount = &viewers
		status.ThumbnailURL = strings.NewReplacer("{width}x{height}", twitchThumbnailSize).Replace(stream.ThumbnailURL)
		if !stream.StartedAt.IsZero() {
			started := stream.StartedAt.UTC()
			status.StartedAt = &started
		}
		return status, nil
	}
	return p.status(false, twitchSource), nil
}
