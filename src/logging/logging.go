package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the process-wide logger from the LOG_LEVEL property
// and returns it. Every call site logs through the package global, so it
// must be replaced here for the level and writer to take effect. Unknown
// level strings fall back to debug.
func Setup(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "dermalyze").
		Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}
