package logger

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	output = newZap()
)

func newZap() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLevel changes the minimum level ("debug", "info", "warn", "error").
// Unknown values leave the current level untouched.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return
	}
	level.SetLevel(l)
}

// Replace swaps the underlying zap logger; tests use it with zaptest/observer cores.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := output
	output = l
	mu.Unlock()
	return func() {
		mu.Lock()
		output = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = output.Sync()
}

func emit(lvl zapcore.Level, msg string, extra map[string]interface{}) {
	mu.RLock()
	l := output
	mu.RUnlock()

	if ce := l.Check(lvl, msg); ce != nil {
		ce.Write(fields(extra)...)
	}
}

func fields(extra map[string]interface{}) []zap.Field {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := extra[k].(error); ok {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, extra[k]))
	}
	return out
}

func Debug(msg string, extra map[string]interface{}) {
	emit(zapcore.DebugLevel, msg, extra)
}

func Info(msg string, extra map[string]interface{}) {
	emit(zapcore.InfoLevel, msg, extra)
}

func Warn(msg string, extra map[string]interface{}) {
	emit(zapcore.WarnLevel, msg, extra)
}

func Error(msg string, extra map[string]interface{}) {
	emit(zapcore.ErrorLevel, msg, extra)
}
