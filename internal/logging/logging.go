// Package logging centralizes Nitrogen's zerolog setup: a pretty
// console writer in interactive use, plain JSON under systemd, and
// per-component child loggers so a log line always carries its
// originating subsystem.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. level accepts the usual
// zerolog names (debug, info, warn, error); unrecognized values fall
// back to info. When journald is true, output is plain JSON to
// stderr (systemd adds its own timestamp); otherwise a
// human-readable console writer is used.
func Init(level string, journald bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if journald {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// For returns a child logger tagged with component=name, e.g.
// logging.For("portal") or logging.For("encode.video").
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
