package clique

import "go.uber.org/zap"

// Logger defines the logging interface for the service.
// It is designed to be compatible with standard logging libraries
// such as slog, zap, and zerolog.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	// Used for per-message failures and the legacy status report.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	// Used for established connections and the status report.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	// Used for recoverable issues like unwanted connections.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// NopLogger is a no-op logger implementation that discards all log messages.
// It is the default logger when no logger is configured.
type NopLogger struct{}

// Ensure NopLogger implements Logger.
var _ Logger = NopLogger{}

// Debug implements Logger.Debug (no-op).
func (NopLogger) Debug(msg string, keysAndValues ...any) {}

// Info implements Logger.Info (no-op).
func (NopLogger) Info(msg string, keysAndValues ...any) {}

// Warn implements Logger.Warn (no-op).
func (NopLogger) Warn(msg string, keysAndValues ...any) {}

// Error implements Logger.Error (no-op).
func (NopLogger) Error(msg string, keysAndValues ...any) {}

type zapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. Key-value pairs become structured
// fields.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{l: l.Sugar()}
}

func (z zapLogger) Debug(msg string, keysAndValues ...any) { z.l.Debugw(msg, keysAndValues...) }
func (z zapLogger) Info(msg string, keysAndValues ...any)  { z.l.Infow(msg, keysAndValues...) }
func (z zapLogger) Warn(msg string, keysAndValues ...any)  { z.l.Warnw(msg, keysAndValues...) }
func (z zapLogger) Error(msg string, keysAndValues ...any) { z.l.Errorw(msg, keysAndValues...) }
