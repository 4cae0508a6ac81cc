// Package logger provides the structured logger used across brewery-kmc.
//
// It wraps a zap SugaredLogger behind a small key/value [Logger] interface so
// components can accept a logger through functional options and fall back to
// the process-wide [Default] when none is given.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a leveled, structured logger. Context is passed as alternating
// key/value pairs: log.Info("database opened", "path", p, "k", 25).
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// With returns a child logger that always carries the given pairs.
	With(keysAndValues ...any) Logger

	// Sync flushes buffered entries.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.s.Sync()
}

// Options selects the encoder and minimum level of a new logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" or "console". Empty means json.
	Format string
}

// New builds a logger writing to stderr.
func New(opts Options) (Logger, error) {
	var level zapcore.Level
	if opts.Level == "" {
		level = zapcore.InfoLevel
	} else if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", opts.Level, err)
	}

	var cfg zap.Config
	switch opts.Format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	default:
		return nil, fmt.Errorf("logger: invalid format %q", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logger: build failed: %w", err)
	}
	return Wrap(l), nil
}

// NewProduction returns a JSON logger at info level.
func NewProduction() (Logger, error) {
	return New(Options{Level: "info", Format: "json"})
}

// MustProduction is like NewProduction but panics on error.
func MustProduction() Logger {
	l, err := NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// NewDevelopment returns a human-readable console logger at debug level.
func NewDevelopment() (Logger, error) {
	return New(Options{Level: "debug", Format: "console"})
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return Wrap(zap.NewNop())
}

var (
	defaultMu sync.RWMutex
	defaultL  = NewNop()
)

// Default returns the process-wide logger. It discards output until
// SetDefault is called.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultL
}

// SetDefault replaces the process-wide logger. A nil logger is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultL = l
	defaultMu.Unlock()
}

// SyncDefault flushes the process-wide logger.
func SyncDefault() {
	_ = Default().Sync()
}

// exit is swapped out in tests.
var exit = os.Exit

// Fatal logs at error level on the default logger, flushes, and exits 1.
func Fatal(msg string, keysAndValues ...any) {
	l := Default()
	l.Error(msg, keysAndValues...)
	_ = l.Sync()
	exit(1)
}
