package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process and installs the result as the
// global logger. level may be empty, in which case local and development
// environments log at debug and everything else at info.
func Setup(environment, level string) zerolog.Logger {
	return SetupWithWriter(environment, level, nil)
}

// SetupWithWriter is Setup with an explicit output. A nil out selects stdout.
func SetupWithWriter(environment, level string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if out == nil {
		out = os.Stdout
	}

	var writer io.Writer = out
	if human(environment) {
		writer = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(ParseLevel(environment, level))
	log.Logger = logger
	return logger
}

// ParseLevel resolves a textual level, falling back to the environment
// default when level is empty or unknown.
func ParseLevel(environment, level string) zerolog.Level {
	if level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && l != zerolog.NoLevel {
			return l
		}
	}
	if human(environment) {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func human(environment string) bool {
	return environment == "local" || environment == "development"
}
