package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/config"
	errwrap "github.com/livewatch/livewatch/internal/errors"
	"github.com/livewatch/livewatch/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the poller can start: configuration, engine settings and store.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		if log == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed"))
			return
		}
		log.Info("✅ Configuration loaded")

		ec, err := cfg.EngineConfig()
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Engine configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "engine config invalid"))
			return
		}
		log.Info("✅ Engine configuration valid", zap.Int("platforms", len(ec.Platforms)), zap.Int("workers", ec.Workers))

		db, _, err := openStore(cmd.Context())
		if err != nil {
			ExitWithCode(log, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "open store"))
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		if err := db.CheckHealth(cmd.Context()); err != nil {
			ExitWithCode(log, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "ping store"))
			return
		}
		log.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
