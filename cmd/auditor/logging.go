package main

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
)

// newLogger builds the process logger. Output always goes to w so stdout stays
// free for answers and for the MCP stdio transport.
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
