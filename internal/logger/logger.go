// Package logger builds the charmbracelet/log loggers shared by the daemon
// and the CLI.
package logger

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps enabled and the
// given level ("debug", "info", "warn", "error").
func New(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    lvl == log.DebugLevel,
		Level:           lvl,
	})
	return l, nil
}

// Component returns a child logger tagged with the component name.
func Component(l *log.Logger, name string) *log.Logger {
	return l.With("component", name)
}

// Discard is a logger for tests and for callers that do not care.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
