package testwire

import "log/slog"

// Logger is the interface for structured logging used by transports,
// servers and reporters. *slog.Logger satisfies it, and applications can
// plug in any logger with the same key/value calling convention.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger() Logger {
	return defaultLogger()
}
