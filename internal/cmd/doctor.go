package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/core/directory"
	"github.com/livewatch/livewatch/internal/core/store"
	errwrap "github.com/livewatch/livewatch/internal/errors"
	"github.com/livewatch/livewatch/internal/observability"
)

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

func (s checkStatus) mark() string {
	switch s {
	case checkOK:
		return "✅"
	case checkWarn:
		return "⚠️ "
	default:
		return "❌"
	}
}

type checkResult struct {
	status checkStatus
	detail string
	err    error
}

func passed(format string, args ...any) checkResult {
	return checkResult{status: checkOK, detail: fmt.Sprintf(format, args...)}
}

func warned(format string, args ...any) checkResult {
	return checkResult{status: checkWarn, detail: fmt.Sprintf(format, args...)}
}

func failed(err error, format string, args ...any) checkResult {
	return checkResult{status: checkFail, detail: fmt.Sprintf(format, args...), err: err}
}

// doctorEnv carries what earlier checks found to the later ones.
type doctorEnv struct {
	ctx       context.Context
	binary    string
	envPrefix string
	cfg       *config.Config
	db        *store.Store
}

// A failing check with exit set ends the process with that code; one with
// halt skips the remaining checks.
type doctorCheck struct {
	name string
	run  func(*doctorEnv) checkResult
	exit foundry.ExitCode
	halt bool
}

var doctorChecks = []doctorCheck{
	{name: "runtime", run: checkRuntime},
	{name: "Gofulmen/Crucible", run: checkCrucible, exit: foundry.ExitExternalServiceUnavailable},
	{name: "config directory", run: checkConfigDir, exit: foundry.ExitFileNotFound},
	{name: "configuration", run: checkConfiguration, halt: true},
	{name: "platform credentials", run: checkCredentials},
	{name: "database", run: checkDatabase},
	{name: "target directory", run: checkTargetDirectory},
}

func checkRuntime(*doctorEnv) checkResult {
	return passed("%s/%s %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkCrucible(*doctorEnv) checkResult {
	v := crucible.GetVersion()
	if v.Crucible == "" || v.Gofulmen == "" {
		return failed(errwrap.NewExternalServiceError("Crucible unavailable"), "unavailable")
	}
	return passed("gofulmen v%s, crucible v%s", v.Gofulmen, v.Crucible)
}

func checkConfigDir(*doctorEnv) checkResult {
	path := config.DefaultConfigPath()
	if path == "" {
		return failed(errwrap.NewInternalError("config directory not resolved"), "cannot resolve config directory")
	}
	return passed("%s (%s)", filepath.Dir(path), existence(path))
}

func checkConfiguration(env *doctorEnv) checkResult {
	cfg, err := config.Load(env.ctx)
	if err != nil {
		return failed(err, "invalid; fix it and run doctor again")
	}
	env.cfg = cfg
	return passed("%d platform(s) enabled", len(cfg.EnabledPlatforms()))
}

func checkCredentials(env *doctorEnv) checkResult {
	missing := env.cfg.MissingCredentials()
	if len(missing) == 0 {
		return passed("configured")
	}
	p := env.envPrefix
	return warned("missing: %s (set them in the config file or via %sTWITCH_CLIENT_ID, %sTWITCH_TOKEN and %sYOUTUBE_API_KEY)",
		strings.Join(missing, ", "), p, p, p)
}

func checkDatabase(env *doctorEnv) checkResult {
	db, _, err := openStore(env.ctx)
	if err != nil {
		return failed(err, "cannot open store")
	}
	env.db = db

	if env.cfg.Store.URL != "" {
		return passed("%s (remote)", env.cfg.Store.URL)
	}
	if info, err := os.Stat(env.cfg.Store.Path); err == nil {
		return passed("%s (%s)", env.cfg.Store.Path, formatFileSize(info.Size()))
	}
	return passed("%s", env.cfg.Store.Path)
}

func checkTargetDirectory(env *doctorEnv) checkResult {
	if strings.EqualFold(env.cfg.Directory.Source, config.DirectorySourceFile) {
		entries, err := (&directory.File{Path: env.cfg.Directory.File}).ListActive(env.ctx)
		if err != nil {
			return failed(err, "%s", env.cfg.Directory.File)
		}
		return passed("%d target(s) in %s", len(entries), env.cfg.Directory.File)
	}

	if env.db == nil {
		return warned("skipped (store unavailable)")
	}
	entries, err := env.db.ListActive(env.ctx)
	switch {
	case err != nil:
		return failed(err, "cannot list targets")
	case len(entries) == 0:
		return warned("no targets (run '%s targets add')", env.binary)
	default:
		return passed("%d enabled target(s) in store", len(entries))
	}
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation, configuration and store, and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		identity := GetAppIdentity()
		env := &doctorEnv{ctx: cmd.Context(), binary: identity.BinaryName, envPrefix: identity.EnvPrefix}
		defer func() { _ = env.db.Close() }()

		log.Info("=== " + env.binary + " doctor ===")
		healthy := true
		for i, check := range doctorChecks {
			result := check.run(env)
			line := fmt.Sprintf("[%d/%d] %s %s %s", i+1, len(doctorChecks), check.name, result.status.mark(), result.detail)

			switch result.status {
			case checkOK:
				log.Info(line)
				continue
			case checkWarn:
				log.Warn(line)
			case checkFail:
				log.Error(line, zap.Error(result.err))
			}
			healthy = false

			if result.status != checkFail {
				continue
			}
			if check.exit != 0 {
				ExitWithCode(log, check.exit, "doctor: "+check.name+" failed", result.err)
			}
			if check.halt {
				return
			}
		}

		if healthy {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", env.binary))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
	},
}

var (
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if path == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(path) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		// 0600: the file is meant to hold platform credentials.
		if err := os.WriteFile(path, []byte(buildInitConfig(GetAppIdentity().EnvPrefix)), 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", path))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		path := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		log.Info(fmt.Sprintf("Config file:    %s (%s)", path, existence(path)))
		log.Info(fmt.Sprintf("Data directory: %s (%s)", dataDir, existence(dataDir)))

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}
		if cfg.Store.URL != "" {
			log.Info(fmt.Sprintf("Database:       %s (remote)", cfg.Store.URL))
		} else {
			log.Info(fmt.Sprintf("Database:       %s (%s)", cfg.Store.Path, existence(cfg.Store.Path)))
		}

		prefix := GetAppIdentity().EnvPrefix
		for _, name := range []string{"TWITCH_CLIENT_ID", "TWITCH_TOKEN", "YOUTUBE_API_KEY"} {
			state := "not set"
			if strings.TrimSpace(os.Getenv(prefix+name)) != "" {
				state = "set"
			}
			log.Info(fmt.Sprintf("%s%s: %s", prefix, name, state))
		}
		if cfg.Server.AdminToken != "" {
			log.Info("Admin signal endpoint: enabled (POST /admin/signal)")
		} else {
			log.Info("Admin signal endpoint: disabled")
		}

		ec, err := cfg.EngineConfig()
		if err != nil {
			return err
		}
		log.Info(fmt.Sprintf("directory.source=%s rate_limit_margin=%.2f", cfg.Directory.Source, cfg.RateLimitMargin))
		for _, platform := range cfg.EnabledPlatforms() {
			policy := ec.Platforms[platform]
			log.Info(fmt.Sprintf("%s: min_interval=%s soft_cap=%d window=%s cost=%d daily=%t",
				platform, policy.MinInterval, policy.Quota.SoftCap, policy.Quota.WindowLength(), policy.Quota.Cost(), policy.Quota.DailyCap))
		}
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		wipeConfig := doctorResetConfig || doctorResetAll
		wipeData := doctorResetData || doctorResetAll
		if !wipeConfig && !wipeData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		log := observability.CLILogger
		if wipeData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}
			removed, err := removeDatabaseFiles(cfg.Store.Path)
			for _, path := range removed {
				log.Info("Removed", zap.String("path", path))
			}
			if err != nil {
				return err
			}
		}

		if wipeConfig {
			path := config.DefaultConfigPath()
			if path == "" {
				log.Warn("Config path not resolved; skipping config reset")
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove config file: %w", err)
			}
			log.Info("Config removed", zap.String("path", path))
		}
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		if cfg.Directory.Source == config.DirectorySourceFile {
			if _, err := (&directory.File{Path: cfg.Directory.File}).ListActive(cmd.Context()); err != nil {
				return err
			}
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", config.DefaultConfigPath()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorConfigCmd, doctorResetCmd, doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// removeDatabaseFiles deletes a local database with its WAL and shared
// memory files and returns the paths that existed.
func removeDatabaseFiles(path string) ([]string, error) {
	if path == "" || path == ":memory:" {
		return nil, nil
	}
	abs, err := filepath.Abs(strings.TrimPrefix(path, "file:"))
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	var removed []string
	for _, candidate := range []string{abs, abs + "-wal", abs + "-shm"} {
		switch err := os.Remove(candidate); {
		case err == nil:
			removed = append(removed, candidate)
		case !os.IsNotExist(err):
			return removed, fmt.Errorf("remove database: %w", err)
		}
	}
	return removed, nil
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	value, suffix := float64(bytes)/unit, "KB"
	for _, next := range []string{"MB", "GB"} {
		if value < unit {
			break
		}
		value, suffix = value/unit, next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

const initConfigTemplate = `# livewatch config - created by 'livewatch doctor init'
server:
  host: localhost
  port: 8080
directory:
  source: store
  # source: file
  # file: /path/to/targets.yaml
platforms:
  twitch:
    enabled: true
    # client_id: ""  # or ${PREFIX}TWITCH_CLIENT_ID
    # token: ""      # or ${PREFIX}TWITCH_TOKEN
  youtube:
    enabled: true
    # api_key: ""    # or ${PREFIX}YOUTUBE_API_KEY
  kick:
    enabled: true
engine:
  workers: 8
  tick_interval: 30s
`

func buildInitConfig(envPrefix string) string {
	return strings.ReplaceAll(initConfigTemplate, "${PREFIX}", envPrefix)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existence(path string) string {
	switch {
	case path == "":
		return "not resolved"
	case fileExists(path):
		return "exists"
	default:
		return "missing"
	}
}
