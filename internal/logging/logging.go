// Package logging builds the process-wide *zap.Logger used throughout this
// repo for structured logging (the teacher has no logging library of its
// own — it only emits lifecycle events through graph/emit; zap is pulled in
// from the pack's jordigilh-kubernaut, which logs through zap throughout).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the given level name ("debug", "info",
// "warn", "error"), JSON-encoded in production style. An unrecognized level
// falls back to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
