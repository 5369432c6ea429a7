package engine

import "go.uber.org/zap"

// Logger is the subset of the structured logger used by the engine.
// Both *zap.Logger and the gofulmen logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

var nopLogger Logger = zap.NewNop()

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger
	}
	return l
}
