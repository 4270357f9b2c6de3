// Package logger is the logging facade used across the chat SDK.
//
// It wraps a zap sugared logger behind package-level printf helpers so that
// callers never carry a logger handle around. The level can be changed at
// runtime (for example when config enables debug mode).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level = zapcore.Level

const (
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug = zapcore.DebugLevel
	// LevelInfo enables informational logs (default).
	LevelInfo = zapcore.InfoLevel
	// LevelWarn enables only warnings and errors.
	LevelWarn = zapcore.WarnLevel
	// LevelError enables only error logs.
	LevelError = zapcore.ErrorLevel
)

var (
	mu    sync.Mutex
	level = zap.NewAtomicLevelAt(LevelInfo)
	sink  zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	sugar                     = build()
)

func build() *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	return zap.New(core).Sugar()
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	level.SetLevel(l)
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(l Level) bool {
	return level.Enabled(l)
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = zapcore.AddSync(w)
	sugar = build()
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	mu.Lock()
	s := sugar
	mu.Unlock()
	s.Debugf(format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	mu.Lock()
	s := sugar
	mu.Unlock()
	s.Infof(format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	mu.Lock()
	s := sugar
	mu.Unlock()
	s.Warnf(format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	mu.Lock()
	s := sugar
	mu.Unlock()
	s.Errorf(format, args...)
}
