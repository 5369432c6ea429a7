package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYouTubeProbeLive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "UC123", query.Get("channelId"))
		assert.Equal(t, "live", query.Get("eventType"))
		assert.Equal(t, "key-1", query.Get("key"))
		_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"abc"},"snippet":{"title":"finals day","publishedAt":"2025-01-01T09:00:00Z","liveBroadcastContent":"live","thumbnails":{"high":{"url":"https://i.ytimg.example/abc/hq.jpg"}}}}]}`))
	}))
	defer server.Close()

	probe := NewYouTubeProbe(server.Client(), nil, server.URL, "key-1")
	status, err := probe.Check(context.Background(), "UC123")
	require.NoError(t, err)
	require.True(t, status.IsLive)
	require.Equal(t, "finals day", status.Title)
	require.Equal(t, "https://i.ytimg.example/abc/hq.jpg", status.ThumbnailURL)
	require.Nil(t, status.ViewerCount)
	require.NotNil(t, status.StartedAt)
}

func TestYouTubeProbeOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	probe := NewYouTubeProbe(server.Client(), nil, server.URL, "key-1")
	status, err := probe.Check(context.Background(), "UC123")
	require.NoError(t, err)
	require.False(t, status.IsLive)
}

func TestYouTubeProbeQuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
	}))
	defer server.Close()

	probe := NewYouTubeProbe(server.Client(), nil, server.URL, "key-1")
	_, err := probe.Check(context.Background(), "UC123")

	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	require.Equal(t, "quotaExceeded", rateErr.Reason)
	require.Zero(t, rateErr.RetryAfter())
}

func TestYouTubeProbeForbiddenIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","errors":[{"reason":"forbidden"}]}}`))
	}))
	defer server.Close()

	probe := NewYouTubeProbe(server.Client(), nil, server.URL, "key-1")
	_, err := probe.Check(context.Background(), "UC123")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, "API key not valid", statusErr.Message)
}

func TestYouTubeProbeTransportErrorHidesAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	probe := NewYouTubeProbe(&http.Client{}, nil, baseURL, "secret-key-1")
	_, err := probe.Check(context.Background(), "UC123")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key-1")
	assert.Contains(t, err.Error(), "key=REDACTED")
}

func TestRedactCredentials(t *testing.T) {
	assert.Equal(t, "https://api.example/search?channelId=UC1&key=REDACTED",
		redactCredentials("https://api.example/search?channelId=UC1&key=abc"))
	assert.Equal(t, "https://api.example/streams", redactCredentials("https://api.example/streams"))
	assert.Equal(t, "https://api.example/streams?user_login=xqc",
		redactCredentials("https://api.example/streams?user_login=xqc"))
}
