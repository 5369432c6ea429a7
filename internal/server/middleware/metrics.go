package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/observability"
)

// HTTP metric names.
const (
	RequestsTotalName    = "http_requests_total"
	RequestDurationName  = "http_request_duration_ms"
	ErrorsTotalName      = "http_errors_total"
	RequestsInFlightName = "http_requests_in_flight"
)

var inFlight atomic.Int64

// statusRecorder keeps the first status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// EndpointPattern returns a low-cardinality label for r. Routed requests use
// the chi pattern so target ids never become label values.
func EndpointPattern(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}

	path := strings.TrimRight(r.URL.Path, "/")
	switch {
	case path == "":
		return "/"
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/admin/signal":
		return path
	case path == "/v1/usage", path == "/v1/targets", path == "/v1/status":
		return path
	case strings.HasPrefix(path, "/v1/targets/"):
		return "/v1/targets/{id}"
	case strings.HasPrefix(path, "/v1/status/"):
		return "/v1/status/{id}"
	default:
		return "/unknown"
	}
}

// quietEndpoint reports endpoints polled by orchestrators and scrapers, which
// are logged at debug level.
func quietEndpoint(endpoint string) bool {
	return endpoint == "/metrics" || strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics counts requests and logs each one with its request id.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		sys := observability.TelemetrySystem
		if sys != nil {
			_ = sys.Gauge(RequestsInFlightName, float64(inFlight.Add(1)), nil)
			defer func() {
				_ = sys.Gauge(RequestsInFlightName, float64(inFlight.Add(-1)), nil)
			}()
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		status := strconv.Itoa(rec.status)

		if sys != nil {
			_ = sys.Counter(RequestsTotalName, 1, map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
				"status":   status,
			})
			_ = sys.Histogram(RequestDurationName, duration, map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
			})
			if rec.status >= 400 {
				errorType := "client_error"
				if rec.status >= 500 {
					errorType = "server_error"
				}
				_ = sys.Counter(ErrorsTotalName, 1, map[string]string{
					"method":     r.Method,
					"endpoint":   endpoint,
					"status":     status,
					"error_type": errorType,
				})
			}
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.Int64("response_size", rec.bytes),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		switch {
		case rec.status >= 500:
			logger.Warn("HTTP request failed", fields...)
		case quietEndpoint(endpoint):
			logger.Debug("HTTP request completed", fields...)
		default:
			logger.Info("HTTP request completed", fields...)
		}
	})
}
