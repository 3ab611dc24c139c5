package logging

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a *logrus.Entry to Logger
type LogrusLogger struct {
	e *logrus.Entry
}

// NewLogrusLogger wraps a logrus entry. Use logrus.NewEntry(logger) for a bare logger.
func NewLogrusLogger(e *logrus.Entry) *LogrusLogger {
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogrusLogger{e: e}
}

func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.e.WithFields(logrusFields(fields)).Debug(msg)
}
func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.e.WithFields(logrusFields(fields)).Info(msg)
}
func (l *LogrusLogger) Warn(msg string, fields ...Field) {
	l.e.WithFields(logrusFields(fields)).Warn(msg)
}
func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.e.WithFields(logrusFields(fields)).Error(msg)
}

// With returns a child logger carrying fields
func (l *LogrusLogger) With(fields ...Field) Logger {
	return &LogrusLogger{e: l.e.WithFields(logrusFields(fields))}
}

func logrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
