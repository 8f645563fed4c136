package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// NewWithFormat returns a logger using the named handler format ("json" or "text").
func NewWithFormat(service, format string, level slog.Level) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		return slog.New(h).With("service", service)
	}
	return New(service, level)
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
