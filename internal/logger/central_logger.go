package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	// Embedded tz database so preference timezones and log timestamps resolve everywhere.
	_ "time/tzdata"
)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process-wide logger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process-wide logger. Before SetGlobal it lazily builds
// an info level console logger on stderr.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = &CentralLogger{
			handler: newTextHandler(os.Stderr, slog.LevelInfo, time.Local),
			levels:  newLevelTable(slog.LevelInfo, nil),
		}
	}
	return global
}

type contextKey string

// TraceIDKey is the context key read by WithContext. Set it with WithTraceID.
const TraceIDKey contextKey = "trace_id"

// WithTraceID returns a copy of ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

// CentralLogger owns the log outputs and hands out module loggers that share
// them. Console output is text, file output is JSON lines.
type CentralLogger struct {
	handler slog.Handler
	levels  *levelTable

	mu   sync.Mutex
	file *bufferedFileWriter
}

// NewCentralLogger builds the outputs described by cfg.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.New("logging config cannot be nil")
	}

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{
		levels: newLevelTable(parseLogLevel(cfg.DefaultLevel), cfg.ModuleLevels),
	}

	var outputs []slog.Handler
	if cfg.Console.Enabled {
		outputs = append(outputs, newTextHandler(os.Stderr, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.FileOutput.Enabled {
		path := cfg.FileOutput.Path
		if path == "" {
			path = DefaultLogPath
		}
		w, err := newBufferedFileWriter(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cl.file = w
		outputs = append(outputs, slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.FileOutput.Level),
		}))
	}

	switch len(outputs) {
	case 0:
		cl.handler = newTextHandler(os.Stderr, parseLogLevel(cfg.DefaultLevel), tz)
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = fanout(outputs)
	}
	return cl, nil
}

// Module returns a logger for name. Its threshold is resolved on every call,
// so SetModuleLevel also affects loggers handed out earlier.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	return &moduleLogger{module: name, handler: cl.handler, levels: cl.levels}
}

// SetModuleLevel changes the threshold for module and its sub-modules that
// have no level of their own. An empty module sets the default.
func (cl *CentralLogger) SetModuleLevel(module string, level LogLevel) {
	cl.levels.set(module, parseSlogLevel(level))
}

// Flush writes buffered file output to the OS.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Flush()
}

// Close flushes and closes the file output. Later records to the file are
// dropped.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := cl.file.Close()
	cl.file = nil
	if err != nil {
		return fmt.Errorf("failed to close log writer: %w", err)
	}
	return nil
}

// fanout writes each record to every output enabled for its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

//nolint:gocritic // slog.Handler takes the record by value
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
