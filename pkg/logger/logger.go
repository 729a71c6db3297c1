// Package logger provides the structured, key/value logger used across the
// module. It is a thin layer over zap's SugaredLogger so that components depend
// on a small interface and tests can inject [NewNop].
//
//	log := logger.Default().With("component", "db")
//	log.Info("database opened", "path", path)
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging contract. keysAndValues are alternating
// key/value pairs, as in zap's SugaredLogger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// With returns a child logger that adds keysAndValues to every entry.
	With(keysAndValues ...any) Logger

	// Sync flushes any buffered entries.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New wraps a zap logger.
func New(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return New(zap.NewNop())
}

// MustProduction builds a JSON logger at info level. Panics on error.
func MustProduction() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return New(l)
}

// MustDevelopment builds a console logger at debug level. Panics on error.
func MustDevelopment() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return New(l)
}

// MustLevel builds a production logger at the named level ("debug", "info",
// "warn", "error"). Panics on an unknown level.
func MustLevel(level string) Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return New(l)
}

func (z *zapLogger) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

func (z *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}

func (z *zapLogger) Sync() error { return z.s.Sync() }

var (
	mu  sync.RWMutex
	def = NewNop()
)

// Default returns the process-wide logger. It discards output until
// [SetDefault] is called.
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return def
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	def = l
}

// SyncDefault flushes the process-wide logger. Errors are ignored because
// syncing stderr fails on some platforms.
func SyncDefault() {
	_ = Default().Sync()
}

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }

// Fatal logs at error level, flushes, and panics with msg.
func Fatal(msg string, kv ...any) {
	l := Default()
	l.Error(msg, kv...)
	_ = l.Sync()
	panic(msg)
}
