package msgsock

import "log/slog"

// Logger is the structured logging interface used throughout the package.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns slog.Default().
func defaultLogger() Logger {
	return slog.Default()
}
