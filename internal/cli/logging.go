package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/lakegov/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. With log_file set, records go to a
// rotated file instead of stderr. The returned closer releases the file.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, io.Closer) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	w := stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		w = rotated
		closer = rotated
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
