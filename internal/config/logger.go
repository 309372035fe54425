package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewDaemonLogger builds the main daemon logger, writing JSON lines to
// daemon.log and, unless quiet, also to stderr via a console writer.
func NewDaemonLogger(path string, quiet bool) (zerolog.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	var w io.Writer = f
	if !quiet {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger, f, nil
}

// NewHooksLogger builds a component-scoped logger for the hook ingestion
// path, writing to hooks.log, matching the two-log-file layout.
func NewHooksLogger(path string) (zerolog.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	logger := zerolog.New(f).With().Timestamp().Str("component", "hooks").Logger()
	return logger, f, nil
}
