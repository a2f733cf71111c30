// Package observability exposes the engine's Prometheus metrics over HTTP.
package observability

import "github.com/readerline/notifyengine/internal/logger"

// Package-level cached logger instance for efficiency.
// All logging in this package should use this variable.
var log = logger.Global().Module("metrics")
