package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controlx.log")
	logger, closer, err := NewLogger(LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Str("route", "/echo").Msg("dispatched")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"route":"/echo"`)
	assert.Contains(t, string(data), `"message":"dispatched"`)
}

func TestNewLoggerBadLevelFallsBackToInfo(t *testing.T) {
	logger, _, err := NewLogger(LogConfig{Level: "loud", Output: "discard"})
	require.NoError(t, err)
	assert.Equal(t, "info", logger.GetLevel().String())
}

func TestLoggerContext(t *testing.T) {
	logger, _, err := NewLogger(LogConfig{Output: "discard"})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	assert.Equal(t, logger.GetLevel(), LoggerFrom(ctx).GetLevel())
}
