// Package probe implements live-status checks against streaming platforms.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/livewatch/livewatch/internal/core"
)

const defaultTimeout = 10 * time.Second

// RateLimitError reports that a platform rejected a request for exceeding its
// quota. The engine feeds RetryAfter into the platform's quota window.
type RateLimitError struct {
	Platform   core.Platform
	StatusCode int
	Wait       time.Duration
	Reason     string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s rate limited (status %d)", e.Platform, e.StatusCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Wait > 0 {
		msg += fmt.Sprintf(", retry in %s", e.Wait.Round(time.Second))
	}
	return msg
}

// RetryAfter returns how long the platform asked callers to wait. Zero means
// until the end of the current quota window.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.Wait
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	Platform   core.Platform
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected response status %d", e.Platform, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Platform, e.Message, e.StatusCode)
}

// base carries the HTTP plumbing shared by every probe.
type base struct {
	Client  *http.Client
	Limiter *rate.Limiter
	BaseURL string
	Clock   func() time.Time
}

func (b *base) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactCredentials(urlErr.URL)
		}
		return nil, err
	}
	return resp, nil
}

// credentialParams are query parameters that carry platform secrets.
var credentialParams = []string{"key", "access_token", "client_secret"}

// redactCredentials masks secret query values in raw. Transport errors embed
// the request URL and end up in logs and stored check errors.
func redactCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	query := u.Query()
	for _, name := range credentialParams {
		if query.Has(name) {
			query.Set(name, "REDACTED")
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (b *base) baseURL(fallback string) string {
	if b != nil && strings.TrimSpace(b.BaseURL) != "" {
		return strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	}
	return fallback
}

func (b *base) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func (b *base) status(live bool, source string) *core.LiveStatus {
	return &core.LiveStatus{
		IsLive:    live,
		CheckedAt: b.now(),
		CheckID:   uuid.New().String(),
		Source:    source,
	}
}

// NewLimiter paces requests to rps with a burst of at least one. A
// non-positive rps disables pacing.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
