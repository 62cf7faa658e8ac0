package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	levels = map[int]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
	}

	// Default to INFO in production, DEBUG in development
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	base = newBase()
)

// Logger is a leveled logger scoped to one component
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
}

func newBase() *zap.Logger {
	if os.Getenv("ENV") == "development" {
		atomicLevel.SetLevel(zapcore.DebugLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = atomicLevel
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true

	l, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{
		component: component,
		sugar:     base.Named(component).Sugar(),
	}
}

// SetMinLevel allows changing the minimum log level at runtime
func SetMinLevel(level int) {
	if lvl, ok := levels[level]; ok {
		atomicLevel.SetLevel(lvl)
	}
}

// SetOutput replaces the process-wide zap core. Loggers created before the
// call keep writing to the previous core.
func SetOutput(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base = l
}

// Sync flushes any buffered log entries
func Sync() error {
	return base.Sync()
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs information messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger that attaches the given key/value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{component: l.component, sugar: l.sugar.With(keysAndValues...)}
}
