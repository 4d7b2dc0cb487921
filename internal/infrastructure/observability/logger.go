package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger returns a JSON logger writing to output (stdout when nil).
// Durations are logged in milliseconds.
func InitLogger(level string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = false

	return zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel accepts zerolog level names plus "warning". Anything else
// logs at info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// WithFields returns a child logger carrying fields on every event. Empty
// values are skipped.
func WithFields(logger zerolog.Logger, fields map[string]string) zerolog.Logger {
	l := logger.With()
	for k, v := range fields {
		if v == "" {
			continue
		}
		l = l.Str(k, v)
	}
	return l.Logger()
}
