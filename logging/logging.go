// Package logging constructs the zap loggers used by the runtime.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger at the given level.
// Unparseable levels fall back to info rather than failing query setup.
func NewLogger(level string) *zap.Logger {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewNopLogger returns a logger that discards everything, for tests
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}
