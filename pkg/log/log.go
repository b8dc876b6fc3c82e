package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide default logger writing text to stderr.
func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: Level(logLevel),
	})))
}

// Level maps a configuration string onto a slog level, defaulting to info.
func Level(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
