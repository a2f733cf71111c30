package realtime

import (
	"math"
	"time"
)

// State is the connection state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateFailed is terminal until the next Connect.
	StateFailed State = "failed"
)

// Active reports whether Connect would be a no-op in this state.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnecting:
		return true
	default:
		return false
	}
}

// StateChange describes one transition.
type StateChange struct {
	From State
	To   State
	// Attempt is the reconnect attempt counter after the transition.
	Attempt int
	// Delay is the scheduled backoff when To is StateReconnecting.
	Delay time.Duration
	// Err is the close or dial error behind involuntary transitions.
	Err error
	At  time.Time
}

// Backoff returns base * 2^attempt, never more than ceiling. A non-positive
// ceiling only guards against overflow.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	delay := min(base, ceiling)
	for range max(attempt, 0) {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}
