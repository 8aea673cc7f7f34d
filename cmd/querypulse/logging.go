package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"querypulse/internal/config"
)

// newLogger builds the process logger. With LOG_FILE set, output goes to a
// size-rotated file instead of stderr. The returned closer flushes and
// closes the file.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out, closer = rotator, rotator
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With("service", "querypulse"), closer
}
