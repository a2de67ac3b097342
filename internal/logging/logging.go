// Package logging builds the daemon's structured logger.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and optional rotating file output.
type Options struct {
	Level      string
	File       string // empty logs to stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a JSON slog.Logger writing to stdout and, when File is set,
// to a rotating log file. The returned closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer) {
	var writer io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			fileLogger := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			}
			writer = io.MultiWriter(os.Stdout, fileLogger)
			closer = fileLogger
		}
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
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

// StdLogger bridges a prefixed log.Logger onto logger for components that
// still take the standard library logger.
func StdLogger(logger *slog.Logger, component string) *log.Logger {
	return slog.NewLogLogger(logger.With("component", component).Handler(), slog.LevelInfo)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
