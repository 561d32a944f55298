package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter wraps a *zap.SugaredLogger to implement the Logger interface.
type ZapAdapter struct {
	s *zap.SugaredLogger
}

// NewZapAdapter creates a Logger from a *zap.Logger.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{s: l.Sugar()}
}

// NewZapProduction builds a production zap logger at the given level.
func NewZapProduction(level LogLevel) (*ZapAdapter, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapAdapter(l), nil
}

// Debug logs a debug message.
func (z *ZapAdapter) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }

// Info logs an informational message.
func (z *ZapAdapter) Info(msg string, args ...any) { z.s.Infow(msg, args...) }

// Warn logs a warning message.
func (z *ZapAdapter) Warn(msg string, args ...any) { z.s.Warnw(msg, args...) }

// Error logs an error message.
func (z *ZapAdapter) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }

// With returns a child adapter carrying args on every entry.
func (z *ZapAdapter) With(args ...any) Logger { return &ZapAdapter{s: z.s.With(args...)} }

// Sync flushes buffered entries.
func (z *ZapAdapter) Sync() error { return z.s.Sync() }

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
