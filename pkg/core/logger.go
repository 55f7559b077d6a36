package core

import (
	"github.com/rs/zerolog"
)

// Logger is the interface for logging operations. Keyvals are alternating
// key/value pairs; odd trailing values are dropped.
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, keyvals ...any)
	// Info logs an informational message
	Info(msg string, keyvals ...any)
	// Warn logs a warning message
	Warn(msg string, keyvals ...any)
	// Error logs an error message
	Error(msg string, keyvals ...any)
	// With returns a new logger with additional key-value pairs
	With(keyvals ...any) Logger
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a Logger backed by the given zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

// Debug logs a debug message
func (l *zerologLogger) Debug(msg string, keyvals ...any) {
	l.emit(l.zl.Debug(), msg, keyvals)
}

// Info logs an informational message
func (l *zerologLogger) Info(msg string, keyvals ...any) {
	l.emit(l.zl.Info(), msg, keyvals)
}

// Warn logs a warning message
func (l *zerologLogger) Warn(msg string, keyvals ...any) {
	l.emit(l.zl.Warn(), msg, keyvals)
}

// Error logs an error message
func (l *zerologLogger) Error(msg string, keyvals ...any) {
	l.emit(l.zl.Error(), msg, keyvals)
}

// With returns a new logger with additional key-value pairs
func (l *zerologLogger) With(keyvals ...any) Logger {
	zc := l.zl.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		zc = zc.Interface(key, keyvals[i+1])
	}
	return &zerologLogger{zl: zc.Logger()}
}

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch v := keyvals[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

// nopLogger is a no-op logger that discards all log messages
type nopLogger struct{}

// Debug is a no-op
func (nopLogger) Debug(msg string, keyvals ...any) {}

// Info is a no-op
func (nopLogger) Info(msg string, keyvals ...any) {}

// Warn is a no-op
func (nopLogger) Warn(msg string, keyvals ...any) {}

// Error is a no-op
func (nopLogger) Error(msg string, keyvals ...any) {}

// With returns a new nopLogger
func (n nopLogger) With(keyvals ...any) Logger {
	return n
}

// NopLogger returns a logger that discards all messages
func NopLogger() Logger {
	return nopLogger{}
}
