// Package realtime maintains the persistent notification channel: dialing,
// decoding frames, and reconnecting with exponential backoff after
// involuntary closes.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/readerline/notifyengine/internal/clock"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
)

// Defaults applied by NewManager.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Minute
	DefaultMaxAttempts = 5
	DefaultFrameBuffer = 64

	stateChangeBuffer = 64
)

// Conn is one open channel.
type Conn interface {
	// ReadMessage blocks for the next data message.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a channel for a user.
type Dialer interface {
	Dial(ctx context.Context, userID string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, userID string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, userID string) (Conn, error) {
	return f(ctx, userID)
}

// Observer receives connection events, typically for metrics.
type Observer interface {
	FrameReceived(frameType string)
	FrameDropped(reason string)
	ConnectionStateChanged(state string)
	ReconnectScheduled(attempt int, delay time.Duration)
}

// Config configures a Manager.
type Config struct {
	Dialer Dialer
	// BaseDelay is the first reconnect delay; attempt n waits BaseDelay*2^n.
	BaseDelay time.Duration
	// MaxDelay caps a single reconnect delay.
	MaxDelay time.Duration
	// MaxAttempts bounds consecutive reconnects before the manager fails.
	MaxAttempts int
	// FrameBuffer is the capacity of the Frames channel.
	FrameBuffer int
	Clock       clock.Clock
	Logger      logger.Logger
	Observer    Observer
}

// Manager owns exactly one logical channel. Decoded frames are delivered in
// arrival order on Frames; a full buffer blocks the reader.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	log    logger.Logger
	frames chan Frame
	states chan StateChange

	mu      sync.Mutex
	state   State
	attempt int
	userID  string
	// session invalidates goroutines and timers from earlier Connect calls
	session uint64
	ctx     context.Context
	cancel  context.CancelFunc
	conn    Conn
	timer   clock.Timer

	wg sync.WaitGroup
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = max(DefaultMaxDelay, cfg.BaseDelay)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = DefaultFrameBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("realtime")
	}

	return &Manager{
		cfg:    cfg,
		clock:  cfg.Clock,
		log:    cfg.Logger,
		frames: make(chan Frame, cfg.FrameBuffer),
		states: make(chan StateChange, stateChangeBuffer),
		state:  StateDisconnected,
	}
}

// Frames is the single inbound stream of decoded frames.
func (m *Manager) Frames() <-chan Frame {
	return m.frames
}

// StateChanges publishes transitions. Sends never block; when the buffer is
// full the change is dropped and State remains authoritative.
func (m *Manager) StateChanges() <-chan StateChange {
	return m.states
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connect opens the channel for userID. Dialing happens in the background.
// It is a no-op while connecting, connected or reconnecting.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if m.cfg.Dialer == nil {
		return errors.Newf("realtime manager has no dialer").
			Component("realtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if userID == "" {
		return errors.ValidationError("user id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Active() {
		return nil
	}

	m.session++
	m.userID = userID
	m.attempt = 0
	// The session outlives the caller's request scope but keeps its values.
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.setStateLocked(StateConnecting, nil, 0)
	m.startLocked()
	return nil
}

// Disconnect closes the channel deliberately and cancels any pending
// reconnect. It never triggers a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug("closing channel", logger.Error(err))
		}
		m.conn = nil
	}
	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected, nil, 0)
	}
}

// Close disconnects and waits for background goroutines to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// startLocked launches the dial-and-read goroutine for the current session
func (m *Manager) startLocked() {
	session, ctx, userID := m.session, m.ctx, m.userID
	m.wg.Go(func() { m.run(ctx, session, userID) })
}

func (m *Manager) run(ctx context.Context, session uint64, userID string) {
	conn, err := m.cfg.Dialer.Dial(ctx, userID)

	m.mu.Lock()
	if session != m.session {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("channel dial failed",
			logger.Int("attempt", m.attempt),
			logger.Error(err))
		m.involuntaryCloseLocked(err)
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.attempt = 0
	m.setStateLocked(StateConnected, nil, 0)
	m.mu.Unlock()

	m.log.Info("channel connected")
	err = m.readLoop(ctx, conn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if session != m.session {
		return
	}
	m.conn = nil
	_ = conn.Close()
	m.log.Warn("channel closed unexpectedly", logger.Error(err))
	m.involuntaryCloseLocked(err)
}

// readLoop delivers frames until the connection fails or ctx ends.
func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return errors.New(err).
				Component("realtime").
				Category(errors.CategoryWebSocket).
				Context("operation", "read").
				Build()
		}

		frame, err := DecodeFrame(data, m.clock.Now())
		if err != nil {
			reason := DropReason(err)
			m.log.Warn("dropping inbound frame",
				logger.String("reason", reason),
				logger.Int("bytes", len(data)),
				logger.Error(err))
			if m.cfg.Observer != nil {
				m.cfg.Observer.FrameDropped(reason)
			}
			continue
		}
		// A frame read after Disconnect belongs to a dead session. Checked
		// before the select because a ready send and a done ctx race.
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.cfg.Observer != nil {
			m.cfg.Observer.FrameReceived(string(frame.Type))
		}

		select {
		case m.frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// involuntaryCloseLocked applies the reconnect policy: back off while the
// attempt budget lasts, then fail without scheduling anything.
func (m *Manager) involuntaryCloseLocked(cause error) {
	if m.attempt >= m.cfg.MaxAttempts {
		m.setStateLocked(StateFailed, cause, 0)
		m.log.Error("channel failed, reconnect attempts exhausted",
			logger.Int("max_attempts", m.cfg.MaxAttempts))
		return
	}

	delay := Backoff(m.cfg.BaseDelay, m.cfg.MaxDelay, m.attempt)
	m.attempt++
	session := m.session
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(session) })
	m.setStateLocked(StateReconnecting, cause, delay)

	if m.cfg.Observer != nil {
		m.cfg.Observer.ReconnectScheduled(m.attempt, delay)
	}
	m.log.Info("reconnect scheduled",
		logger.Int("attempt", m.attempt),
		logger.Duration("delay", delay))
}

func (m *Manager) reconnect(session uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session || m.state != StateReconnecting {
		return
	}
	m.timer = nil
	m.setStateLocked(StateConnecting, nil, 0)
	m.startLocked()
}

func (m *Manager) setStateLocked(to State, cause error, delay time.Duration) {
	change := StateChange{
		From:    m.state,
		To:      to,
		Attempt: m.attempt,
		Delay:   delay,
		Err:     cause,
		At:      m.clock.Now(),
	}
	m.state = to

	if m.cfg.Observer != nil {
		m.cfg.Observer.ConnectionStateChanged(string(to))
	}
	select {
	case m.states <- change:
	default:
		m.log.Debug("state change dropped, subscriber is behind",
			logger.String("state", string(to)))
	}
}
