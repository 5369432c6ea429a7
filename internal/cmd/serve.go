package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/core/directory"
	"github.com/livewatch/livewatch/internal/core/engine"
	"github.com/livewatch/livewatch/internal/core/probe"
	"github.com/livewatch/livewatch/internal/core/store"
	errwrap "github.com/livewatch/livewatch/internal/errors"
	"github.com/livewatch/livewatch/internal/metrics"
	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/server"
	"github.com/livewatch/livewatch/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// engineHealthChecker reports unhealthy once the poller has stopped, and
// degraded while a platform is blocked by a rate-limit reply.
type engineHealthChecker struct {
	orch *engine.Orchestrator
	now  func() time.Time
}

func (e engineHealthChecker) CheckHealth(ctx context.Context) error {
	if e.orch == nil || !e.orch.Running() {
		return errwrap.NewUnavailableError("poller is not running")
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	var blocked []string
	for _, usage := range e.orch.UsageStatistics(now()).Platforms {
		if usage.BackoffUntil != nil {
			blocked = append(blocked, string(usage.Platform))
		}
	}
	if len(blocked) > 0 {
		return handlers.Degraded(fmt.Errorf("rate limited: %s", strings.Join(blocked, ", ")))
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller and its HTTP API",
	Long: `Run the live-status poller together with the HTTP API.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the target directory

On shutdown the poller finishes in-flight checks, persists quota windows,
then the HTTP server and store are closed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides server.port)")
}

func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	server := map[string]any{}
	if cmd.Flags().Changed("host") {
		server["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		server["port"] = serverPort
	}
	if len(server) > 0 {
		overrides["server"] = server
	}
	return overrides
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	cfg, err := config.Load(ctx, serveOverrides(cmd))
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration",
			errwrap.WrapConfigInvalid(ctx, err, "config load failed"))
		return nil
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid engine configuration",
			errwrap.WrapConfigInvalid(ctx, err, "engine config invalid"))
		return nil
	}

	if err := observability.InitServerLogger(observability.LoggerOptions{
		Service:   identity.BinaryName,
		Level:     cfg.Logging.Level,
		Profile:   cfg.Logging.Profile,
		Namespace: namespace,
		File:      cfg.Logging.File,
	}); err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid logging configuration",
			errwrap.WrapConfigInvalid(ctx, err, "server logger initialization failed"))
		return nil
	}
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}
	startedAt := time.Now()
	metrics.SetServerStartTime(startedAt.Unix())

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "open store")
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return errwrap.WrapDatabaseError(ctx, err, "migrate store")
	}

	probes, err := probe.Build(cfg.ProbeSettings())
	if err != nil {
		_ = db.Close()
		return errwrap.WrapConfigInvalid(ctx, err, "build probes")
	}
	for _, missing := range cfg.MissingCredentials() {
		logger.Warn("Platform credentials missing; checks will fail until configured", zap.String("platform", missing))
	}

	var (
		dir    engine.TargetDirectory = db
		writer handlers.TargetWriter  = db
	)
	if strings.EqualFold(cfg.Directory.Source, config.DirectorySourceFile) {
		dir = &directory.File{Path: cfg.Directory.File}
		writer = nil
	}

	orch, err := engine.New(engineCfg, engine.Options{
		Probes:    probes,
		Sink:      db,
		Directory: dir,
		Persister: db,
		Logger:    logger,
		Recorder:  metrics.NewRecorder(),
	})
	if err != nil {
		_ = db.Close()
		return errwrap.WrapConfigInvalid(ctx, err, "engine initialization failed")
	}
	restoreQuota(ctx, db, orch)

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Metrics.Port),
		zap.String("directory", cfg.Directory.Source),
		zap.Int("workers", engineCfg.Workers),
		zap.Duration("tick_interval", engineCfg.TickInterval))

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", db)
	hm.RegisterLivenessChecker("poller", engineHealthChecker{orch: orch})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(&handlers.API{Engine: orch, Statuses: db, Writer: writer}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithAdminToken(cfg.Server.AdminToken),
	)
	handlers.SetAppIdentity(identity)
	handlers.SetEngineConfig(&engineCfg)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	errChan := make(chan error, 1)
	done := make(chan struct{})

	// Shutdown handlers run LIFO: poller, then HTTP server, then store, metrics and logger.
	signals.OnShutdown(func(ctx context.Context) error {
		defer close(done)
		if err := db.Close(); err != nil {
			logger.Warn("Store close returned error", zap.Error(err))
		}
		if err := observability.ShutdownMetrics(); err != nil {
			logger.Warn("Metrics exporter stop returned error", zap.Error(err))
		}
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Stopping poller...")
		orch.Stop()
		logger.Info("Poller stopped")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: refreshing target directory")
		if err := orch.RefreshDirectory(ctx); err != nil {
			return errwrap.WrapInternal(ctx, err, "directory refresh failed")
		}
		logger.Info("Target directory refreshed", zap.Int("targets", len(orch.ListTargets())))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	orch.Start(context.WithoutCancel(ctx))
	go reportUptime(done, startedAt, engineCfg.ReportInterval)

	go func() {
		logger.Info("Starting HTTP server...",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		orch.Stop()
		_ = db.Close()
		return errwrap.WrapInternal(ctx, err, "server error")
	case <-done:
		return nil
	}
}

// restoreQuota loads persisted quota windows so a restart inside a window
// does not hand out a fresh budget.
func restoreQuota(ctx context.Context, db *store.Store, orch *engine.Orchestrator) {
	states, err := db.LoadQuotaStates(ctx)
	if err != nil {
		observability.ServerLogger.Warn("Failed to load persisted quota windows", zap.Error(err))
		return
	}
	for _, state := range states {
		if orch.Quota().Restore(state) {
			observability.ServerLogger.Info("Restored quota window",
				zap.String("platform", string(state.Platform)),
				zap.Int("request_count", state.RequestCount),
				zap.Time("window_start", state.WindowStart))
		}
	}
}

func reportUptime(done <-chan struct{}, startedAt time.Time, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		}
	}
}
