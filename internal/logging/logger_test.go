package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/legamerdc/lenecho/config"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	require.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestSetupFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.log")
	logger, err := Setup(config.LogConfig{Level: "info", Format: "json", Outputs: []string{path}})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Debug("hidden")
	logger.Info("conn open", zap.Uint64("conn", 7))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "conn open", entry["msg"])
	require.Equal(t, float64(7), entry["conn"])
}

func TestSetupRotation(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, "rotated.log")
	logger, err := Setup(config.LogConfig{
		Level:    "debug",
		Outputs:  []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{Enable: true, Filename: rotated, MaxSizeMB: 1},
	})
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	logger.Debug("rotating")
	_ = logger.Sync()
	data, err := os.ReadFile(rotated)
	require.NoError(t, err)
	require.Contains(t, string(data), "rotating")
}
