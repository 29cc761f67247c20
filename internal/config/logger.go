package config

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger described by
// cfg.Logging, mirroring the teacher's slog.NewJSONHandler(os.Stderr, ...)
// setup in cmd/nexus/main.go.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
