// Package logger provides a process-wide structured logging singleton over
// log/slog, used by every other package in the gateway instead of
// constructing loggers locally.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// singleton is the package-level logger. Accessed atomically so it is safe
// for concurrent use across goroutines, including during Initialize.
var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newDefault())
}

func newDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Get returns the underlying *slog.Logger for injection into structs that
// prefer an explicit dependency over the package-level singleton.
func Get() *slog.Logger {
	return singleton.Load()
}

// Set replaces the singleton logger. Intended for tests that capture log
// output; production code should use Initialize instead.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Initialize configures the singleton logger from a level name such as
// "debug", "info", "warn", or "error". Unknown levels default to "info".
func Initialize(levelName string) {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(levelName)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func get() *slog.Logger { return singleton.Load() }

// Debugf logs a message at debug level using the singleton logger.
func Debugf(msg string, args ...any) { get().Debug(fmt.Sprintf(msg, args...)) }

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) { get().Debug(msg, keysAndValues...) }

// Infof logs a message at info level using the singleton logger.
func Infof(msg string, args ...any) { get().Info(fmt.Sprintf(msg, args...)) }

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) { get().Info(msg, keysAndValues...) }

// Warnf logs a message at warning level using the singleton logger.
func Warnf(msg string, args ...any) { get().Warn(fmt.Sprintf(msg, args...)) }

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) { get().Warn(msg, keysAndValues...) }

// Errorf logs a message at error level using the singleton logger.
func Errorf(msg string, args ...any) { get().Error(fmt.Sprintf(msg, args...)) }

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) { get().Error(msg, keysAndValues...) }

// Fatalf logs a message at error level and then exits the process.
func Fatalf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}
