package cmd

import (
	"fmt"
	"io"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Swapped by tests.
var (
	osExit = os.Exit
	stderr = io.Writer(os.Stderr)
)

// ExitWithCode logs err with the foundry metadata for exitCode and ends the
// process. Without a logger it writes to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, known := foundry.GetExitCodeInfo(exitCode)
	if !known || logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}
	logger.Error(msg, exitFields(info, err)...)
	osExit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before the logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, known := foundry.GetExitCodeInfo(exitCode)
	if !known {
		info = foundry.ExitCodeInfo{Code: int(exitCode), Name: "UNKNOWN"}
	}
	writeFatal(stderr, msg, err, info)
	osExit(info.Code)
}

func exitFields(info foundry.ExitCodeInfo, err error) []zap.Field {
	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	env, ok := err.(*gferrors.ErrorEnvelope)
	if !ok {
		return append(fields, zap.Error(err))
	}
	fields = append(fields,
		zap.String("error_code", env.Code),
		zap.String("error_message", env.Message),
		zap.String("correlation_id", env.CorrelationID),
	)
	if len(env.Context) > 0 {
		fields = append(fields, zap.Any("error_context", env.Context))
	}
	if cause := originalCause(env); cause != "" {
		fields = append(fields, zap.String("error", cause))
	}
	return fields
}

// originalCause returns the wrapped error text; gofulmen stores it as a
// string.
func originalCause(env *gferrors.ErrorEnvelope) string {
	switch original := env.Original.(type) {
	case string:
		return original
	case error:
		return original.Error()
	default:
		return ""
	}
}

func writeFatal(w io.Writer, msg string, err error, info foundry.ExitCodeInfo) {
	switch e := err.(type) {
	case nil:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	case *gferrors.ErrorEnvelope:
		fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, e.Code, e.Message, e.CorrelationID)
		if cause := originalCause(e); cause != "" {
			fmt.Fprintf(w, "Underlying error: %s\n", cause)
		}
	default:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	} else {
		fmt.Fprintf(w, "Exit Code: %d (%s)\n", info.Code, info.Name)
	}
}
