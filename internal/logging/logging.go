// Package logging wraps zap so every process in the pipeline emits the
// same structured, leveled log shape.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"). An unrecognized level falls back to "info".
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// ForUpload returns a child logger carrying the uploadId correlation field,
// so a single job's lifecycle can be grepped out of the log stream.
func ForUpload(base *zap.Logger, uploadID string) *zap.Logger {
	return base.With(zap.String("uploadId", uploadID))
}
