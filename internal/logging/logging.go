// Package logging builds the zerolog logger shared by the binaries.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger at the given level. format "console" selects
// human-readable output; anything else emits JSON lines.
func New(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
