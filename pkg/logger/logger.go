// Package logger builds the structured loggers used across CuckooDB's
// internal components. Open builds one *zap.SugaredLogger tagged with
// the owning service, and the Cache, DataFileManager and StorageEngine
// all log through it; Component can derive a child logger named for a
// subsystem, but the pipeline stages do not call it.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-configured, service-scoped logger. It never
// fails: if the zap production config cannot be built (which only
// happens from a broken encoder config), it falls back to a no-op
// logger rather than panicking a caller that merely wants to open a
// database.
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}

	return log.Sugar().With("service", service)
}

// Component returns a child logger scoped to a named subsystem
// (e.g. "cache", "datafile", "engine"), preserving the parent's fields.
func Component(log *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return log.Named(name)
}
