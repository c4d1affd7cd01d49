package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"webpatrol/internal/config"
)

func TestNewDefaults(t *testing.T) {
	log, err := New(config.LoggingConfig{})
	require.NoError(t, err)
	defer log.Sync()
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "patrol.log")
	log, err := New(config.LoggingConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	log.Info("hello from the patrol")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the patrol")
}
