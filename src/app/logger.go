package app

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// InitLogger builds the root logger. Unknown levels fall back to info and
// unknown formats to console.
func InitLogger(levelStr, format string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if format != LogFormatJSON {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("app", "batua").
		Logger()
}
