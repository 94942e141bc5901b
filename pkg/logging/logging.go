// Package logging provides the structured logger shared by the transport,
// chat, and harness packages. It wraps zap so call sites never reach for
// the standard library log package.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "console" or "json". Defaults to "console".
	Format string
}

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	// Usable before Init is called, e.g. from package-level var initializers
	// in tests that never dial into the CLI's config flow.
	logger, _ = zap.NewDevelopment()
}

// Init (re)configures the package logger. Safe to call more than once;
// later calls replace the logger used by subsequent Debug/Info/Warn/Error.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(levelFromString(cfg.Level))

	if cfg.Format == "" || cfg.Format == "console" {
		zcfg.Encoding = "console"
		zcfg.Development = true
		zcfg.EncoderConfig.TimeKey = ""
		zcfg.EncoderConfig.CallerKey = ""
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("logging: build logger: %w", err)
	}

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

func levelFromString(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { current().Fatal(msg, fields...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	return current().Sync()
}
