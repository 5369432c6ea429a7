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
	youtubeSource         = "youtube-data-v3"
	youtubeDefaultBaseURL = "https://www.googleapis.com/youtube/v3"
)

// YouTubeProbe finds live broadcasts with search.list, which costs 100 quota
// units per call.
type YouTubeProbe struct {
	base
	APIKey string
}

// NewYouTubeProbe creates a Data API probe.
func NewYouTubeProbe(client *http.Client, limiter *rate.Limiter, baseURL, apiKey string) *YouTubeProbe {
	return &YouTubeProbe{
		base:   base{Client: client, Limiter: limiter, BaseURL: baseURL},
		APIKey: apiKey,
	}
}

// Platform returns core.PlatformYouTube.
func (p *YouTubeProbe) Platform() core.Platform {
	return core.PlatformYouTube
}

// Check reports whether the channel has an active live broadcast.
func (p *YouTubeProbe) Check(ctx context.Context, channel string) (*core.LiveStatus, error) {
	channelID := strings.TrimSpace(channel)
	if channelID == "" {
		return nil, errors.New("youtube channel id is required")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("youtube api key is not configured")
	}

	query := url.Values{
		"part":       {"snippet"},
		"channelId":  {channelID},
		"eventType":  {"live"},
		"type":       {"video"},
		"maxResults": {"1"},
		"key":        {p.APIKey},
	}
	reqURL := p.baseURL(youtubeDefaultBaseURL) + "/search?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("youtube request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, p.responseError(resp)
	}

	var payload struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title                string    `json:"title"`
				PublishedAt          time.Time `json:"publishedAt"`
				LiveBroadcastContent string    `json:"liveBroadcastContent"`
				Thumbnails           map[string]struct {
					URL string `json:"url"`
				} `json:"thumbnails"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode youtube search: %w", err)
	}

	for _, item := range payload.Items {
		if item.Snippet.LiveBroadcastContent != "" && item.Snippet.LiveBroadcastContent != "live" {
			continue
		}
		status := p.status(true, youtubeSource)
		status.Title = item.Snippet.Title
		for _, size := range []string{"high", "medium", "default"} {
			if thumb, ok := item.Snippet.Thumbnails[size]; ok && thumb.URL != "" {
				status.ThumbnailURL = thumb.URL
				break
			}
		}
		if !item.Snippet.PublishedAt.IsZero() {
			started := item.Snippet.PublishedAt.UTC()
			status.StartedAt = &started
		}
		return status, nil
	}
	return p.status(false, youtubeSource), nil
}

func (p *YouTubeProbe) responseError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	reason := ""
	if len(payload.Error.Errors) > 0 {
		reason = payload.Error.Errors[0].Reason
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimited(core.PlatformYouTube, resp, p.now(), reason)
	case resp.StatusCode == http.StatusForbidden && (reason == "quotaExceeded" || reason == "rateLimitExceeded" || reason == "dailyLimitExceeded"):
		return rateLimited(core.PlatformYouTube, resp, p.now(), reason)
	default:
		msg := payload.Error.Message
		if msg == "" {
			msg = "unexpected data api response"
		}
		return &StatusError{Platform: core.PlatformYouTube, StatusCode: resp.StatusCode, Message: msg}
	}
}
