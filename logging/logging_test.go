package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerParsesLevel(t *testing.T) {
	log := NewLogger("error")
	require.True(t, log.Core().Enabled(zapcore.ErrorLevel))
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	log := NewLogger("chatty")
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))
	require.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
