package probe

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

func retryAfterHeader(resp *http.Response, now time.Time) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry != "" {
		if seconds, err := time.ParseDuration(retry + "s"); err == nil {
			return seconds
		}
		if parsed, err := http.ParseTime(retry); err == nil {
			if wait := parsed.Sub(now); wait > 0 {
				return wait
			}
			return 0
		}
	}

	// Twitch reports the bucket refill as a unix timestamp instead.
	if reset := resp.Header.Get("Ratelimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if wait := time.Unix(unix, 0).Sub(now); wait > 0 {
				return wait
			}
		}
	}
	return 0
}

func rateLimited(platform core.Platform, resp *http.Response, now time.Time, reason string) *RateLimitError {
	return &RateLimitError{
		Platform:   platform,
		StatusCode: resp.StatusCode,
		Wait:       retryAfterHeader(resp, now),
		Reason:     reason,
	}
}
