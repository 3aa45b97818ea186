package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.InvalidLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		logger, err := New(Config{Level: tt.level, OutputPaths: []string{filepath.Join(t.TempDir(), "log")}})
		require.NoError(t, err, tt.level)
		assert.True(t, logger.Core().Enabled(tt.enabled), tt.level)
		if tt.muted != zapcore.InvalidLevel {
			assert.False(t, logger.Core().Enabled(tt.muted), tt.level)
		}
	}

	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestJSONOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Config{OutputPaths: []string{out}})
	require.NoError(t, err)

	logger.Component("registry").Info("script installed", zap.String("script", "test/Hello"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"logger":"registry"`)
	assert.Contains(t, line, `"message":"script installed"`)
	assert.Contains(t, line, `"script":"test/Hello"`)
	assert.Contains(t, line, `"timestamp":`)
}

func TestComponent(t *testing.T) {
	var nilLogger *Logger
	assert.NotNil(t, nilLogger.Component("x"))
	assert.NotNil(t, NewNop().Component("registry"))
	assert.NotNil(t, NewDefault())
}
