package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", false)

	log.Debug().Str("component", "test").Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "debug", line["level"])
	require.Equal(t, "test", line["component"])
	require.Equal(t, "hello", line["message"])
	require.Contains(t, line, "time")
}

func TestNewWithWriterLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", false)

	log.Info().Msg("dropped")
	require.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestNewWithWriterUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "chatty", false)

	log.Debug().Msg("dropped")
	require.Zero(t, buf.Len())
	log.Info().Msg("kept")
	require.NotZero(t, buf.Len())
}

func TestNewWithWriterPretty(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", true)

	log.Info().Msg("readable")
	require.Contains(t, buf.String(), "readable")
	require.False(t, json.Valid(buf.Bytes()))
}
