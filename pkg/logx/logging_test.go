package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewFrom(zerolog.New(&buf)).With(String("comp", "scheduler"))

	log.Warn("job failed", String("job", "job_1"), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "job failed", m["message"])
	assert.Equal(t, "scheduler", m["comp"])
	assert.Equal(t, "job_1", m["job"])
	assert.Equal(t, "boom", m[zerolog.ErrorFieldName])
	assert.Contains(t, m[zerolog.CallerFieldName], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("dropped")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud", zerolog.InfoLevel))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "*******789", Mask("0123456789"))
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "", Mask(""))

	var buf bytes.Buffer
	NewFrom(zerolog.New(&buf)).Info("login", Masked("login", "0600000000"))
	assert.Contains(t, buf.String(), `"login":"*******000"`)
}
