package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		" trace ": zerolog.TraceLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("info", &buf)

	fielded := WithFields(logger, map[string]string{"request_id": "req-1", "payment_id": ""})
	fielded.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.NotContains(t, line, "payment_id")
	assert.Equal(t, "hello", line["message"])
}

func TestInitLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("warn", &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestInitLogger_DurationsInMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("info", &buf)

	logger.Info().Dur("took", 1500*time.Millisecond).Msg("gateway call")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, 1500.0, line["took"])
}
