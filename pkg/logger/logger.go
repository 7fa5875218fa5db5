package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the root slog logger. Components derive their own logger
// via New(...).With("component", name).
func New(level, format string, sinks ...io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	switch len(sinks) {
	case 0:
	case 1:
		out = sinks[0]
	default:
		out = io.MultiWriter(sinks...)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
