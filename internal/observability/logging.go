package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a JSON logger on stdout tagged with component. The
// level comes from AMX_LOG_LEVEL (default info). AMX_LOG_PRETTY=1 switches
// to the console writer for local runs.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv("AMX_LOG_LEVEL")))
}

func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(logOutput(), component, level)
}

func newLogger(out io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).Level(level).With().Timestamp().Str("component", component).Logger()
}

func logOutput() io.Writer {
	if os.Getenv("AMX_LOG_PRETTY") == "1" {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}
	return os.Stdout
}

// ParseLogLevel accepts zerolog level names in any case. Empty or unknown
// names give info; "disabled" silences the logger.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
