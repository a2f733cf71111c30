package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every error built while it is installed.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// reporterHolder lets an interface value live in an atomic.Pointer.
type reporterHolder struct{ TelemetryReporter }

var activeReporter atomic.Pointer[reporterHolder]

// SetTelemetryReporter installs r as the global reporter; nil disables
// reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	if r == nil || !r.IsEnabled() {
		activeReporter.Store(nil)
		return
	}
	activeReporter.Store(&reporterHolder{r})
}

func telemetryActive() bool {
	return activeReporter.Load() != nil
}

func reportToTelemetry(ee *EnhancedError) {
	h := activeReporter.Load()
	if h == nil || !ee.markReported() {
		return
	}
	h.ReportError(ee)
}

// InitSentry initializes the Sentry client and installs a SentryReporter.
// An empty DSN disables reporting.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: false,
		SendDefaultPII:   false,
	})
	if err != nil {
		return New(err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	SetTelemetryReporter(SentryReporter{})
	return nil
}

// FlushSentry waits up to timeout for queued events when reporting is on.
func FlushSentry(timeout time.Duration) {
	if telemetryActive() {
		sentry.Flush(timeout)
	}
}

// SentryReporter sends errors to Sentry with tokens, ids and query strings
// scrubbed from every message and context value.
type SentryReporter struct{}

func (SentryReporter) IsEnabled() bool { return true }

func (SentryReporter) ReportError(ee *EnhancedError) {
	title := errorTitle(ee)
	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err))
	level := sentryLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Level = level
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})
}

// errorTitle groups events by component, category and operation, for
// example "Backend Mirror Error Mark Read".
func errorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, capitalize(c))
	}
	parts = append(parts, categoryTitle(ee.Category))
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		for word := range strings.FieldsSeq(strings.ReplaceAll(op, "_", " ")) {
			parts = append(parts, capitalize(word))
		}
	}
	return strings.Join(parts, " ")
}

var categoryTitles = map[ErrorCategory]string{
	CategoryValidation:    "Validation Error",
	CategoryNetwork:       "Network Error",
	CategoryWebSocket:     "WebSocket Error",
	CategoryHTTP:          "HTTP Error",
	CategoryMirror:        "Mirror Error",
	CategoryPreferences:   "Preferences Error",
	CategoryConfiguration: "Configuration Error",
	CategoryDatabase:      "Database Error",
	CategoryFrame:         "Frame Error",
}

func categoryTitle(c ErrorCategory) string {
	if title, ok := categoryTitles[c]; ok {
		return title
	}
	return capitalize(string(c)) + " Error"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sentryLevel downgrades transient and expected failures.
func sentryLevel(c ErrorCategory) sentry.Level {
	switch c {
	case CategoryNetwork, CategoryWebSocket, CategoryTimeout, CategoryHTTP, CategoryMirror, CategoryFrame:
		return sentry.LevelWarning
	case CategoryPermission, CategoryCancellation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryPattern = regexp.MustCompile(`((?:https?|wss?)://[^?\s]+)\?\S*`)
	bearerPattern   = regexp.MustCompile(`(?i)bearer\s+\S+`)
	secretPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:api[_-]?key|token|auth)[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
	idPattern = regexp.MustCompile(`(?i)(?:user|reader|client)[_-]?id[=:]\S+`)
)

// scrubMessageForPrivacy removes query strings, bearer tokens, keys and user
// identifiers.
func scrubMessageForPrivacy(message string) string {
	message = urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
	message = bearerPattern.ReplaceAllString(message, "Bearer [TOKEN_REDACTED]")
	for _, re := range secretPatterns {
		message = re.ReplaceAllString(message, "[API_KEY_REDACTED]")
	}
	return idPattern.ReplaceAllString(message, "[ID_REDACTED]")
}
