// Package xlog is a thin structured-logging wrapper used throughout the
// routing core. It mirrors the key/value call convention of the teacher's
// own log package (Info/Debug/Warn/Error(msg, "key", val, ...)) on top of
// the standard library's slog, since nothing in the core actually needs a
// third-party logging backend.
package xlog

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger is a structured logger with the key/value call shape used across
// the codebase. The zero value is not usable; use New or Default.
type Logger struct {
	l *slog.Logger
}

// New builds a Logger writing text-formatted records to os.Stderr.
func New(level slog.Level) *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{l: slog.New(h)}
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns a process-wide Logger at Info level, created once.
func Default() *Logger {
	defaultOnce.Do(func() { defaultLog = New(slog.LevelInfo) })
	return defaultLog
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// Throttled rate-limits progress messages to at most one every `every`
// duration, used by the outer tile-scan loops to emit progress roughly
// every 5s without flooding logs on fast rasters. It is not safe for
// concurrent use from multiple goroutines
// since every routing algorithm is single-threaded by design.
type Throttled struct {
	log   *Logger
	every time.Duration
	last  time.Time
}

// NewThrottled wraps log with a minimum interval between emitted messages.
func NewThrottled(log *Logger, every time.Duration) *Throttled {
	return &Throttled{log: log, every: every}
}

// Progress emits msg/kv if at least `every` has elapsed since the last
// emitted message, and is silently swallowed otherwise — progress
// logging never returns an error.
func (t *Throttled) Progress(msg string, kv ...any) {
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		return
	}
	t.last = now
	t.log.Info(msg, kv...)
}
