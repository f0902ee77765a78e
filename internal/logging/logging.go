// Package logging configures the process wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. DEV environments get a coloured console
// writer, everything else gets JSON lines.
func Setup(env, level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if strings.EqualFold(env, "DEV") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
