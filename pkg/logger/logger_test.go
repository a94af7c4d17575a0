package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeFromBuffer(t *testing.T) {
	var buf bytes.Buffer
	logData, err := New().FromBuffer(&buf).Make()
	require.NoError(t, err)

	logData.Logger.Info().Str("collection", "actors").Msg("mirror installed")
	assert.Contains(t, buf.String(), `"collection":"actors"`)
	assert.Contains(t, buf.String(), "mirror installed")
}

func TestMakeLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logData, err := New().FromBuffer(&buf).Level(zerolog.WarnLevel).Make()
	require.NoError(t, err)

	logData.Logger.Debug().Msg("dropped")
	logData.Logger.Warn().Msg("kept")
	assert.False(t, strings.Contains(buf.String(), "dropped"))
	assert.Contains(t, buf.String(), "kept")
}
