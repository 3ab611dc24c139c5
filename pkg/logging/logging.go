// Package logging defines the structured logger used across regioncache and
// adapters for zap and logrus.
package logging

import (
	"fmt"
)

// LogLevel defines the severity level for logging
type LogLevel int

const (
	// LogLevelDebug enables all log messages including detailed debugging
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables informational messages and above
	LogLevelInfo

	// LogLevelWarn enables warning messages and above
	LogLevelWarn

	// LogLevelError enables only error messages
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", ...) to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch name {
	case "debug", "DEBUG":
		return LogLevelDebug, nil
	case "info", "INFO", "":
		return LogLevelInfo, nil
	case "warn", "WARN", "warning":
		return LogLevelWarn, nil
	case "error", "ERROR":
		return LogLevelError, nil
	case "none", "NONE", "off":
		return LogLevelNone, nil
	default:
		return LogLevelNone, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F is a convenience function to create a logging field
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err is shorthand for F("error", err)
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards all messages
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (nol *NoOpLogger) Debug(string, ...Field) {}
func (nol *NoOpLogger) Info(string, ...Field)  {}
func (nol *NoOpLogger) Warn(string, ...Field)  {}
func (nol *NoOpLogger) Error(string, ...Field) {}
func (nol *NoOpLogger) With(...Field) Logger   { return nol }

// OrNoOp returns l, or a NoOpLogger when l is nil
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}

var (
	_ Logger = (*NoOpLogger)(nil)
	_ Logger = (*ZapLogger)(nil)
	_ Logger = (*LogrusLogger)(nil)
)
