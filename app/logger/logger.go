// Package logger builds the structured slog loggers used across the server.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// level is shared by every logger built by New so SetLevel applies globally.
var level = new(slog.LevelVar)

// New creates a logger and installs it as the slog default.
func New(cfg Config) *slog.Logger {
	level.Set(parseLevel(cfg.Level))

	output := cfg.Output

	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)

	return l
}

// SetLevel changes the level of every logger created by New.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
