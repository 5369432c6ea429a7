package integration

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/core"
	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/server"
)

// sandboxDenied reports whether a listen or bind failed because the
// environment forbids loopback sockets.
func sandboxDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not permitted")
}

func initLoggers(t *testing.T) {
	t.Helper()
	require.NoError(t, observability.InitCLILogger("livewatch-it", false))
	require.NoError(t, observability.InitServerLogger(observability.LoggerOptions{Service: "livewatch-it", Level: "info"}))
}

// startExporter starts the Prometheus exporter under the "it" namespace.
func startExporter(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("livewatch-it", 0, "it"); err != nil {
		if sandboxDenied(err) {
			t.Skipf("exporter bind denied: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })
}

// serve runs the livewatch router on an IPv4 loopback listener.
func serve(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if sandboxDenied(err) {
		t.Skipf("listen denied: %v", err)
	}
	require.NoError(t, err)

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: server.New("127.0.0.1", 0, opts...).Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// fakeKick answers channel lookups; only the listed slugs are live.
func fakeKick(t *testing.T, live ...string) *httptest.Server {
	t.Helper()
	liveSet := make(map[string]bool, len(live))
	for _, slug := range live {
		liveSet[slug] = true
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if liveSet[slug] {
			_, _ = w.Write([]byte(`{"slug":"` + slug + `","livestream":{"is_live":true,"session_title":"just chatting","viewer_count":1200}}`))
			return
		}
		_, _ = w.Write([]byte(`{"slug":"` + slug + `","livestream":null}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// statusSink keeps the latest status per target in memory.
type statusSink struct {
	mu     sync.Mutex
	latest map[string]core.LiveStatus
}

func (s *statusSink) Save(_ context.Context, targetID string, status *core.LiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[string]core.LiveStatus)
	}
	s.latest[targetID] = *status
	return nil
}

func (s *statusSink) live(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[targetID].IsLive
}
