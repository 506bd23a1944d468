// Package logging wires the supervisor's structured log output: slog records go
// to the console and to a rotating file under .ai/logs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures Setup.
type Options struct {
	Level   string // debug, info, warn, error
	Verbose bool   // forces debug
	LogDir  string // empty = console only
	Console io.Writer
	JSON    bool
}

// ParseLevel maps a config level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// Setup builds the supervisor logger and installs it as the slog default.
// The returned close function flushes and closes the file sink.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level := ParseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	w := console
	closeFn := func() error { return nil }
	if opts.LogDir != "" {
		rl, err := NewRotatingLogger(opts.LogDir, "supervisor")
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(console, rl)
		closeFn = rl.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// Discard returns a logger that drops everything. Tests use it for quiet collaborators.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
