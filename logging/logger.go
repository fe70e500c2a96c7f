package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a Logger.
type Options struct {
	// DevMode selects colored console output and debug level.
	DevMode bool
	// Level overrides the mode's default level ("debug", "info", ...).
	Level string
	// FilePath enables a rotated JSON log file. Empty means console only.
	FilePath string
	// File tunes rotation; zero values take the defaults.
	File FileWriterConfig
}

// Logger wraps zap.Logger and provides structured logging with automatic
// sensitive data redaction. Redaction lives in the core, so the *zap.Logger
// returned by Zap redacts as well.
//
// Example:
//
//	logger, err := NewLogger(Options{DevMode: true, FilePath: "insightpdf.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("server started", zap.Int("port", 8000))
type Logger struct {
	zap           *zap.Logger
	isDevelopment bool
	logFilePath   string
}

// NewLogger creates a Logger for the given options. The log file directory
// is created if missing.
func NewLogger(opts Options) (*Logger, error) {
	defaultLevel := zapcore.InfoLevel
	if opts.DevMode {
		defaultLevel = zapcore.DebugLevel
	}
	level := ParseLogLevelString(opts.Level, defaultLevel)

	console := zapcore.Lock(zapcore.AddSync(os.Stdout))

	var core zapcore.Core
	if opts.FilePath == "" {
		core = NewConsoleCore(level, console, opts.DevMode)
	} else {
		if dir := filepath.Dir(opts.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file := NewFileWriterWithConfig(opts.FilePath, opts.File)
		core = NewMultiCoreWithWriters(level, console, file, opts.DevMode)
	}

	l := NewLoggerWithCore(core)
	l.isDevelopment = opts.DevMode
	l.logFilePath = opts.FilePath
	return l, nil
}

// NewLoggerWithCore builds a Logger over an arbitrary core, wrapped in the
// redacting core. Tests pass zaptest/observer cores.
func NewLoggerWithCore(core zapcore.Core) *Logger {
	zapLogger := zap.New(NewRedactingCore(core),
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip this wrapper layer
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{zap: zapLogger}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a message at DebugLevel with optional structured fields.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Info logs a message at InfoLevel with optional structured fields.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs a message at WarnLevel with optional structured fields.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs a message at ErrorLevel with optional structured fields.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

// Zap returns the underlying zap.Logger for packages that take one directly.
func (l *Logger) Zap() *zap.Logger {
	return l.zap.WithOptions(zap.AddCallerSkip(-1))
}

// IsDevelopment returns true if the logger is configured for development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the path to the log file, or "" for console only.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}
