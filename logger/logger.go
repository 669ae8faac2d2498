package logger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	l, _ := build("info", "console")
	current.Store(l)
}

// Init replaces the process logger. level is one of debug, info, warn, error;
// format is "console" or "json".
func Init(level, format string) error {
	l, err := build(level, format)
	if err != nil {
		return err
	}
	current.Store(l)
	return nil
}

func build(level, format string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func Debug(msg string, kv ...any) { current.Load().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { current.Load().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { current.Load().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { current.Load().Errorw(msg, kv...) }

// Sync flushes buffered entries. Call before exit.
func Sync() {
	_ = current.Load().Sync()
}
