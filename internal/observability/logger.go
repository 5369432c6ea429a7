package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used by the poller and the HTTP server
	ServerLogger *logging.Logger
)

// LoggerOptions configure the server logger.
type LoggerOptions struct {
	Service string
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Profile is SIMPLE (console text), STRUCTURED (JSON) or ENTERPRISE
	// (JSON with throttling). Empty means STRUCTURED.
	Profile   string
	Namespace string
	// File additionally writes JSON logs to a rotated file.
	File string
}

// Log rotation for the optional file sink.
const (
	logFileMaxSizeMB  = 50
	logFileMaxBackups = 5
	logFileMaxAgeDays = 14
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) error {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		return fmt.Errorf("initialize CLI logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger builds ServerLogger from opts.
func InitServerLogger(opts LoggerOptions) error {
	config, err := serverLoggerConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(config)
	if err != nil {
		return fmt.Errorf("initialize server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

func serverLoggerConfig(opts LoggerOptions) (*logging.LoggerConfig, error) {
	staticFields := map[string]any{"component": "poller"}
	if opts.Namespace != "" {
		staticFields["namespace"] = opts.Namespace
	}

	config := &logging.LoggerConfig{
		Profile:          logging.ProfileStructured,
		DefaultLevel:     parseLogLevel(opts.Level),
		Service:          opts.Service,
		Environment:      "production",
		StaticFields:     staticFields,
		Middleware:       []logging.MiddlewareConfig{logging.WithCorrelation()},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	consoleFormat := "json"
	switch strings.ToUpper(strings.TrimSpace(opts.Profile)) {
	case "", string(logging.ProfileStructured):
	case string(logging.ProfileSimple):
		// Human readable output keeps the structured pipeline.
		consoleFormat = "console"
		config.EnableStacktrace = false
	case string(logging.ProfileEnterprise):
		// Throttle bursts such as a platform outage failing every check.
		config.Throttling = &logging.ThrottlingConfig{
			Enabled:    true,
			MaxRate:    500,
			BurstSize:  1000,
			WindowSize: 1,
			DropPolicy: logging.DropPolicyOldest,
		}
	default:
		return nil, fmt.Errorf("unknown logging profile %q", opts.Profile)
	}

	config.Sinks = append(config.Sinks, logging.SinkConfig{
		Type:    "console",
		Format:  consoleFormat,
		Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
	})
	if path := strings.TrimSpace(opts.File); path != "" {
		config.Sinks = append(config.Sinks, logging.SinkConfig{
			Type:   "file",
			Format: "json",
			File: &logging.FileSinkConfig{
				Path:       path,
				MaxSize:    logFileMaxSizeMB,
				MaxBackups: logFileMaxBackups,
				MaxAge:     logFileMaxAgeDays,
			},
		})
	}
	return config, nil
}

// parseLogLevel converts string log level to logging severity string
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
