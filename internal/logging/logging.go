package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates the process logger at the given level. Logs go to stderr so
// stdout stays free for shell pipelines, and every line carries the app
// attribute for aggregation across services.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler).With("app", "newsflow")
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
