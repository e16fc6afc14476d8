// Package logging builds the process logger. Logs go to stderr so that
// command output on stdout stays machine readable.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config describes logger runtime configuration.
type Config struct {
	Level string `mapstructure:"level"`
	// Format is json, console or auto. Auto picks console on a terminal.
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
}

// NewLogger constructs a zerolog logger writing to stderr.
func NewLogger(cfg Config) zerolog.Logger {
	return newLogger(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func newLogger(cfg Config, out io.Writer, tty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	ctx := zerolog.New(logWriter(cfg, out, tty)).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel falls back to info for empty or unknown names.
func parseLevel(name string) zerolog.Level {
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func logWriter(cfg Config, out io.Writer, tty bool) io.Writer {
	switch {
	case cfg.PrettyPrint, strings.EqualFold(cfg.Format, "console"):
	case strings.EqualFold(cfg.Format, "auto") && tty:
	default:
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.Kitchen,
		NoColor:    !tty,
	}
}
