package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
)

// CircuitState is the breaker position. The numeric values are exported as
// the circuit breaker gauge.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

var (
	// ErrCircuitBreakerOpen rejects calls while the backend is considered down.
	ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
				Component("backend").
				Category(errors.CategoryLimit).
				Build()
	// ErrTooManyRequests rejects calls once every half-open probe is in flight.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component("backend").
				Category(errors.CategoryLimit).
				Build()
)

// BreakerObserver is told about every state change.
type BreakerObserver interface {
	BreakerStateChanged(name string, state int)
}

// CircuitBreakerConfig tunes when the breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	MaxFailures         int           // consecutive failures that open the breaker
	Timeout             time.Duration // time spent open before probing
	HalfOpenMaxRequests int           // concurrent probes while half-open
}

// DefaultCircuitBreakerConfig trips after five straight failures and probes
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMaxRequests: 1}
}

func (c CircuitBreakerConfig) Validate() error {
	switch {
	case c.MaxFailures < 1:
		return fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures)
	case c.Timeout < time.Second:
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	case c.HalfOpenMaxRequests < 1:
		return fmt.Errorf("half_open_max_requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// CircuitBreaker stops mirror calls from piling onto a backend that keeps
// failing. Answers that blame the request, such as 404 for an id that was
// already deleted elsewhere, count as healthy responses.
type CircuitBreaker struct {
	name     string
	cfg      CircuitBreakerConfig
	log      logger.Logger
	observer BreakerObserver
	now      func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker returns a closed breaker. An invalid config is only
// logged, which lets tests run with sub-second timeouts.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, log logger.Logger, observer BreakerObserver) *CircuitBreaker {
	if log == nil {
		log = logger.Global().Module("backend")
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("circuit breaker config is out of range",
			logger.String("breaker", name),
			logger.Error(err))
	}
	if observer != nil {
		observer.BreakerStateChanged(name, int(StateClosed))
	}
	return &CircuitBreaker{name: name, cfg: cfg, log: log, observer: observer, now: time.Now}
}

// Call runs fn unless the breaker rejects it, then records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return fmt.Errorf("backend %s rejected the call: %w", cb.State(), err)
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.moveTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.probes++
	case StateClosed:
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil, errors.IsCategory(err, errors.CategoryNotFound), errors.IsCategory(err, errors.CategoryValidation):
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.moveTo(StateClosed)
		}
	case errors.Is(err, context.Canceled):
		// the caller gave up; hand the probe back without judging the backend
		if cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
	default:
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.moveTo(StateOpen)
		}
	}
}

// moveTo requires mu.
func (cb *CircuitBreaker) moveTo(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0
	if next == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.observer != nil {
		cb.observer.BreakerStateChanged(cb.name, int(next))
	}

	log := cb.log.With(
		logger.String("breaker", cb.name),
		logger.String("from", prev.String()),
		logger.String("to", next.String()),
		logger.Int("consecutive_failures", cb.failures))
	if next == StateOpen {
		log.Warn("backend circuit opened, mirror calls paused", logger.Duration("retry_after", cb.cfg.Timeout))
		return
	}
	log.Info("backend circuit changed state")
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures is the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.moveTo(StateClosed)
}
