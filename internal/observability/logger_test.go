package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"webtestflow/recorder/internal/config"
)

func TestJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "debug", Format: "json"}, zapcore.AddSync(&buf))

	logger.Debug("probe", zap.String("session_id", "s1"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "recorder", entry["logger"])
	assert.Equal(t, "s1", entry["session_id"])
}

func TestLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "loud", Format: "console"}, zapcore.AddSync(&buf))

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.log")
	var console bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "info", Format: "console", File: path, MaxSize: 1}, zapcore.AddSync(&console))

	logger.Info("written to both")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to both"`)
	assert.Contains(t, console.String(), "written to both")
}

func TestInstall(t *testing.T) {
	logger := zap.NewExample()
	restore := Install(logger)
	assert.Same(t, logger, zap.L())
	restore()
	assert.NotSame(t, logger, zap.L())
}
