package logging

import (
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// FileWriterConfig holds rotation settings. Zero values take the defaults,
// and rotated files are gzip-compressed unless DisableCompress is set.
type FileWriterConfig struct {
	MaxSizeMB       int
	MaxBackups      int
	MaxAgeDays      int
	DisableCompress bool
	LocalTime       bool
}

// NewFileWriterWithConfig creates a rotating zapcore.WriteSyncer backed by
// lumberjack.
func NewFileWriterWithConfig(path string, config FileWriterConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(newLumberjack(path, config))
}

func newLumberjack(path string, config FileWriterConfig) *lumberjack.Logger {
	cfg := applyFileWriterDefaults(config)
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   !cfg.DisableCompress,
		LocalTime:  cfg.LocalTime,
	}
}

func applyFileWriterDefaults(config FileWriterConfig) FileWriterConfig {
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = DefaultMaxSizeMB
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = DefaultMaxBackups
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = DefaultMaxAgeDays
	}
	return config
}
