package cmd

import (
	"io"
	"log/slog"
	"strings"
)

// parseLevel maps a config log level to slog. Unknown values mean warn.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// setupLogging installs the default slog logger. --debug overrides the
// configured level.
func setupLogging(w io.Writer, level string, debug bool) {
	lvl := parseLevel(level)
	if debug {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
