package logger

import (
	"io"
	"log/slog"
	"time"
)

// newTextHandler builds the human-readable console handler. Records carry no
// timestamp unless a timezone other than the process default is requested, in
// which case the time is rendered in that zone.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if tz == nil || tz == time.Local {
					return slog.Attr{}
				}
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, formatLevel(lvl))
			}
			return a
		},
	})
}

// formatLevel renders the custom trace level
func formatLevel(level slog.Level) string {
	if level <= traceLevel {
		return "TRACE"
	}
	return level.String()
}
