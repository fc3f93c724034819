package log

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Options configures the global logger built by Setup.
type Options struct {
	// Level is one of "debug", "info", "error" (case-insensitive).
	Level string
	// Format is "console" (default) or "json".
	Format string
	// File, if set, receives log output instead of stderr. The dashboard
	// owns the terminal while it runs, so this is normally set.
	File string
}

var (
	mu       sync.RWMutex
	sugar    *zap.SugaredLogger
	initOnce sync.Once
	minLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger installs a stderr console logger if Setup was never called.
func initLogger() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if sugar != nil {
			return
		}
		cfg := baseConfig("console")
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		sugar = l.Sugar()
	})
}

func baseConfig(format string) zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Level = minLevel
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.Encoding = "console"
	if format == "json" {
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

// Setup replaces the global logger according to opts. The returned
// function flushes buffered output and should be deferred by main.
func Setup(opts Options) (func(), error) {
	if opts.Level != "" {
		if err := minLevel.UnmarshalText([]byte(opts.Level)); err != nil {
			return func() {}, err
		}
	}

	cfg := baseConfig(opts.Format)
	cfg.OutputPaths = []string{"stderr"}
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
	}

	l, err := cfg.Build()
	if err != nil {
		return func() {}, err
	}

	initOnce.Do(func() {})
	mu.Lock()
	sugar = l.Sugar()
	mu.Unlock()

	return func() { _ = l.Sync() }, nil
}

// ReplaceForTest swaps the output core (typically a zaptest observer) and
// returns a function restoring the previous logger.
func ReplaceForTest(core zapcore.Core) func() {
	initLogger()
	mu.Lock()
	prev := sugar
	sugar = zap.New(core).Sugar()
	mu.Unlock()
	return func() {
		mu.Lock()
		sugar = prev
		mu.Unlock()
	}
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		minLevel.SetLevel(zapcore.DebugLevel)
	case LevelError:
		minLevel.SetLevel(zapcore.ErrorLevel)
	default:
		minLevel.SetLevel(zapcore.InfoLevel)
	}
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(msg string, kv ...any) {
	logWithLevel(nil, LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(nil, LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(nil, LevelError, msg, withErr(err, kv)...)
}

// Logger carries a fixed set of key/value pairs, e.g. the fetcher name.
type Logger struct {
	fields []any
}

// With returns a Logger that prefixes every record with kv.
func With(kv ...any) Logger {
	return Logger{fields: append([]any(nil), kv...)}
}

func (l Logger) With(kv ...any) Logger {
	fields := make([]any, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	return Logger{fields: append(fields, kv...)}
}

func (l Logger) Debug(msg string, kv ...any) {
	logWithLevel(l.fields, LevelDebug, msg, kv...)
}

func (l Logger) Info(msg string, kv ...any) {
	logWithLevel(l.fields, LevelInfo, msg, kv...)
}

func (l Logger) Error(msg string, err error, kv ...any) {
	logWithLevel(l.fields, LevelError, msg, withErr(err, kv)...)
}

func withErr(err error, kv []any) []any {
	if err == nil {
		err = errors.New("<nil>")
	}
	return append([]any{"err", err.Error()}, kv...)
}

func logWithLevel(fields []any, level Level, msg string, kv ...any) {
	if !enabled(level) {
		return
	}

	s := current()
	if len(fields) > 0 {
		s = s.With(fields...)
	}
	// Odd trailing keys are dropped rather than reported by zap.
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}

	switch level {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelError:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

func enabled(level Level) bool {
	switch level {
	case LevelDebug:
		return minLevel.Enabled(zapcore.DebugLevel)
	case LevelError:
		return minLevel.Enabled(zapcore.ErrorLevel)
	default:
		return minLevel.Enabled(zapcore.InfoLevel)
	}
}
