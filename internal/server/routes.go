package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/server/handlers"
)

const (
	adminSignalPath = "/admin/signal"
	adminRatePerMin = 10
	adminRateBurst  = 5
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if s.api != nil {
		s.router.Route("/v1", s.api.Routes)
	}
	if s.adminToken != "" {
		s.mountAdminSignal()
	}
}

// mountAdminSignal exposes the signal manager over HTTP. Requests need the
// configured bearer token and are rate limited per client.
func (s *Server) mountAdminSignal() {
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: adminRatePerMin,
		RateBurst: adminRateBurst,
	})
	s.router.Post(adminSignalPath, handler.ServeHTTP)

	if logger := observability.ServerLogger; logger != nil {
		logger.Warn("Admin signal endpoint enabled",
			zap.String("path", adminSignalPath),
			zap.Int("rate_per_min", adminRatePerMin))
	}
}
