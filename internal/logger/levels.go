package logger

import (
	"log/slog"
	"strings"
	"sync"
)

// traceLevel sits below slog's Debug (-4).
const traceLevel = slog.Level(-8)

// levelTable resolves the threshold for a module name. Lookups walk up the
// dotted name, so "realtime.ws" falls back to "realtime" and then to the
// default. Changes apply to loggers that already exist.
type levelTable struct {
	mu       sync.RWMutex
	fallback slog.Level
	modules  map[string]slog.Level
}

func newLevelTable(fallback slog.Level, modules map[string]string) *levelTable {
	t := &levelTable{
		fallback: fallback,
		modules:  make(map[string]slog.Level, len(modules)),
	}
	for name, level := range modules {
		t.modules[name] = parseLogLevel(level)
	}
	return t
}

func (t *levelTable) set(module string, level slog.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if module == "" {
		t.fallback = level
		return
	}
	t.modules[module] = level
}

func (t *levelTable) threshold(module string) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()

	name := module
	for name != "" {
		if level, ok := t.modules[name]; ok {
			return level
		}
		dot := strings.LastIndexByte(name, '.')
		if dot < 0 {
			break
		}
		name = name[:dot]
	}
	return t.fallback
}

// parseLogLevel maps a configured level name to slog. Unknown names are info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return traceLevel
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}
