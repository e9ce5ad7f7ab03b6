package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	logger, err := New(Config{Level: zapcore.InfoLevel, Format: FormatJSON, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("listening", zap.String("addr", "127.0.0.1:8080"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"listening"`)
	assert.Contains(t, string(data), `"addr":"127.0.0.1:8080"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Format: FormatConsole}.Validate())
	assert.True(t, errors.IsNotValid(Config{Format: "xml"}.Validate()))

	_, err := New(Config{Format: "xml"})
	assert.True(t, errors.IsNotValid(err))
}
