// Package util holds the small cross-cutting helpers the rest of the
// module shares: slog construction, retry with backoff, token-bucket rate
// limiting for the market-data API, and UTC calendar math.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the module's standard JSON logger at the given level.
// Levels are "debug", "info", "warn", "error"; anything else falls back to
// info so a typo in config never silences logs.
func NewLogger(level string) *slog.Logger {
	var slevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "info":
		slevel = slog.LevelInfo
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slevel,
	})

	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default. Components
// derive their own loggers from it with slog.Default().With.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
