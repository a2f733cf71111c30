// Package logger provides module-scoped structured logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
	"unique"
)

// LogLevel is the textual log level used in configuration.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a typed key/value pair attached to a log record.
type Field struct {
	Key   string
	Value any
}

// internKey deduplicates frequently used keys
func internKey(key string) string {
	return unique.Make(key).Value()
}

var (
	errorKey   = internKey("error")
	moduleKey  = internKey("module")
	traceIDKey = internKey("trace_id")
)

// Logger is the logging interface used across the engine.
type Logger interface {
	// Module returns a child logger scoped to a sub-module ("realtime.dialer").
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every record.
	With(fields ...Field) Logger
	// WithContext attaches context values such as a trace id.
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	Flush() error
}

func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. Credentials in the message are redacted
// when the record is written; nil errors are logged as nil.
func Error(err error) Field {
	return Field{Key: errorKey, Value: err}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}

// NewSlogLogger creates a standalone Logger writing text records to w.
// A nil writer logs to stdout, a nil timezone uses time.Local.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	if tz == nil {
		tz = time.Local
	}
	threshold := parseSlogLevel(level)
	return &moduleLogger{
		handler: newTextHandler(w, threshold, tz),
		levels:  newLevelTable(threshold, nil),
	}
}

// NewDiscardLogger returns a Logger that drops every record.
func NewDiscardLogger() Logger {
	return &moduleLogger{
		handler: slog.DiscardHandler,
		levels:  newLevelTable(slog.LevelError+1, nil),
	}
}
