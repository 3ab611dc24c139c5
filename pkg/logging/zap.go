package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to Logger
type ZapLogger struct {
	l *zap.Logger
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{l: l}
}

// NewDefaultLogger builds a JSON zap production logger filtered at level.
// LogLevelNone yields a NoOpLogger.
func NewDefaultLogger(level LogLevel) Logger {
	if level >= LogLevelNone {
		return NewNoOpLogger()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.InitialFields = map[string]any{"component": "regioncache"}

	l, err := cfg.Build()
	if err != nil {
		return NewNoOpLogger()
	}
	return NewZapLogger(l)
}

func (z *ZapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, zapFields(fields)...) }
func (z *ZapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, zapFields(fields)...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, zapFields(fields)...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, zapFields(fields)...) }

// With returns a child logger carrying fields
func (z *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{l: z.l.With(zapFields(fields)...)}
}

// Sync flushes buffered entries
func (z *ZapLogger) Sync() error {
	return z.l.Sync()
}

func zapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
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
