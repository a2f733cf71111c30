// Package errors provides categorized errors built through a fluent builder,
// with optional reporting of every built error to a telemetry backend.
//
//	err := errors.Newf("dial failed: %w", cause).
//		Component("realtime").
//		Category(errors.CategoryWebSocket).
//		Context("attempt", 3).
//		Build()
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors for handling and reporting.
type ErrorCategory string

// CategorizedError lets a wrapped error supply its own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryLimit         ErrorCategory = "limit"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryDatabase      ErrorCategory = "database"
	CategoryIntegration   ErrorCategory = "integration"

	// Transport
	CategoryNetwork   ErrorCategory = "network"
	CategoryHTTP      ErrorCategory = "http-request"
	CategoryWebSocket ErrorCategory = "websocket"

	// Notification delivery
	CategoryFrame       ErrorCategory = "frame-decode" // malformed or unknown inbound frames
	CategoryPreferences ErrorCategory = "preferences"  // invalid preference payloads
	CategoryPermission  ErrorCategory = "permission"   // desktop permission refusals
	CategoryMirror      ErrorCategory = "mirror"       // backend mirror call failures
)

// ComponentUnknown is used when no component was set or detected.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a component, a category and context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string

	mu       sync.Mutex
	reported bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, so categorized sentinels
// such as a package's ErrNotFound match any error of that category.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// GetComponent returns the component the error was raised in.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetContext returns a copy of the context map, nil if there is none.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// markReported returns false if the error had already been reported.
func (ee *EnhancedError) markReported() bool {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	if ee.reported {
		return false
	}
	ee.reported = true
	return true
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an error from a format string; %w wraps as usual.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the subsystem. When unset it is detected from the caller's
// package.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. When unset it is taken from the wrapped error,
// or guessed from the message when telemetry is active.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the error and hands it to the telemetry reporter, if any.
func (eb *ErrorBuilder) Build() *EnhancedError {
	reporting := telemetryActive()

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.component == "" {
		ee.component = ComponentUnknown
		// Stack walking is only worth it when someone reads the result.
		if reporting {
			ee.component = detectComponent()
		}
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
		if reporting {
			ee.Category = guessCategory(eb.err, ee.component)
		}
	}

	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

// componentPackages maps internal package names to component names.
var componentPackages = map[string]string{
	"realtime":     "realtime",
	"notification": "notification",
	"backend":      "backend",
	"desktop":      "desktop",
	"engine":       "engine",
	"devserver":    "devserver",
	"httpclient":   "httpclient",
	"secrets":      "secrets",
	"conf":         "config",
}

// detectComponent returns the component of the nearest caller outside this
// package.
func detectComponent() string {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if pkg := internalPackage(frame.Function); pkg != "" && pkg != "errors" {
			if component, ok := componentPackages[pkg]; ok {
				return component
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// internalPackage extracts "engine" from ".../internal/engine.(*Engine).Start".
func internalPackage(function string) string {
	_, rest, ok := strings.Cut(function, "/internal/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "./"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func inheritedCategory(err error) ErrorCategory {
	var categorized CategorizedError
	if stderrors.As(err, &categorized) {
		return categorized.ErrorCategory()
	}
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) {
		return enhanced.Category
	}
	return ""
}

// guessCategory classifies an uncategorized error by its message.
func guessCategory(err error, component string) ErrorCategory {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "websocket"):
		return CategoryWebSocket
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return CategoryValidation
	case component == "backend":
		return CategoryHTTP
	}
	return CategoryGeneric
}

// ValidationError creates a validation error with message.
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryValidation).
		Build()
}

// NewStd is errors.New from the standard library.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap is errors.Unwrap from the standard library.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join is errors.Join from the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhanced *EnhancedError
	return As(err, &enhanced) && enhanced.Category == category
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
