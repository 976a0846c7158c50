// Package logging wraps zap with the service's configuration and field helpers.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"ledger-engine/pkg/money"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	// Level is the log level (debug, info, warn, error, dpanic, panic, fatal)
	Level string
	// Format is the log format (json or console)
	Format string
	// OutputPaths is a list of paths to write logs to
	OutputPaths []string
	// ErrorOutputPaths is a list of paths to write internal logger errors to
	ErrorOutputPaths []string
	// Development enables development mode (DPanic logs will panic)
	Development bool
	// EnableCaller enables caller information in logs
	EnableCaller bool
	// EnableStacktrace enables stack traces for error logs
	EnableStacktrace bool
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns a configuration for development
func DevelopmentConfig() Config {
	return Config{
		Level:            "debug",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Development:      true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config Config) (*Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(config.Format)
	if format != "json" && format != "console" {
		return nil, fmt.Errorf("logging: unknown format %q", config.Format)
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
		Encoding:          format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  config.ErrorOutputPaths,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// ConfigFromEnv builds a configuration from environment variables
// LEDGER_LOG_LEVEL: log level (default: info)
// LEDGER_LOG_FORMAT: log format (default: json)
// LEDGER_LOG_DEV: enable development mode (default: false)
func ConfigFromEnv() Config {
	config := DefaultConfig()
	if os.Getenv("LEDGER_LOG_DEV") == "true" {
		config = DevelopmentConfig()
	}
	if level := os.Getenv("LEDGER_LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("LEDGER_LOG_FORMAT"); format != "" {
		config.Format = format
	}
	return config
}

// NewLoggerFromEnv creates a logger based on environment variables.
func NewLoggerFromEnv() (*Logger, error) {
	return NewLogger(ConfigFromEnv())
}

// NewNoOpLogger creates a logger that discards all logs
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// NewObserved creates a logger that records entries at or above level in memory.
// Tests use it to assert on log output.
func NewObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{zap.New(core)}, logs
}

// ParseLevel converts a string to a zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Field helpers shared by the ledger components.

// OwnerID tags the account owner.
func OwnerID(id string) zap.Field { return zap.String("owner_id", id) }

// Amount tags a monetary amount in major units.
func Amount(key string, a money.Amount) zap.Field { return zap.Stringer(key, a) }

// TransactionID tags a transaction.
func TransactionID(id string) zap.Field { return zap.String("transaction_id", id) }

// Collection tags a store collection.
func Collection(name string) zap.Field { return zap.String("collection", name) }

var global atomic.Pointer[Logger]

func init() {
	global.Store(NewNoOpLogger())
}

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	global.Store(logger)
}

// Global returns the global logger instance
func Global() *Logger {
	return global.Load()
}

// L returns the global logger instance (short form)
func L() *Logger {
	return Global()
}
