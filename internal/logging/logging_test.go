package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetup_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "acado.log")

	logger, cleanup, err := Setup(Config{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debug("solver started", zap.String("problem", "rocket"))
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"solver started"`)
	assert.Contains(t, string(data), `"problem":"rocket"`)
}

func TestSetup_BadLevel(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "verbose"})
	assert.Error(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, cleanup())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
