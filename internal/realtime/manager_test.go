package realtime

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/readerline/notifyengine/internal/clock"
	"github.com/readerline/notifyengine/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// fakeConn is a Conn fed from a channel. Closing msgs simulates the server
// hanging up.
type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.msgs:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// scriptedDialer hands out queued results; an exhausted queue fails.
type scriptedDialer struct {
	mu      sync.Mutex
	results []func() (Conn, error)
	dials   atomic.Int32
	userIDs []string
}

func (d *scriptedDialer) push(conn Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, func() (Conn, error) { return conn, err })
}

func (d *scriptedDialer) Dial(_ context.Context, userID string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userIDs = append(d.userIDs, userID)
	if len(d.results) == 0 {
		return nil, assert.AnError
	}
	next := d.results[0]
	d.results = d.results[1:]
	return next()
}

type recordingObserver struct {
	mu        sync.Mutex
	received  []string
	dropped   []string
	scheduled []time.Duration
}

func (o *recordingObserver) FrameReceived(ft string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, ft)
}

func (o *recordingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, reason)
}

func (o *recordingObserver) ConnectionStateChanged(string) {}

func (o *recordingObserver) ReconnectScheduled(_ int, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled = append(o.scheduled, delay)
}

func newTestManager(t *testing.T, dialer Dialer, fake *clock.Fake, obs Observer) *Manager {
	t.Helper()
	m := NewManager(Config{
		Dialer:      dialer,
		BaseDelay:   time.Second,
		MaxAttempts: 5,
		Clock:       fake,
		Logger:      logger.NewDiscardLogger(),
		Observer:    obs,
	})
	t.Cleanup(m.Close)
	return m
}

// waitForState consumes state changes until one reaches want.
func waitForState(t *testing.T, m *Manager, want State) StateChange {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case change := <-m.StateChanges():
			if change.To == want {
				return change
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, current %s", want, m.State())
			return StateChange{}
		}
	}
}

func receiveFrame(t *testing.T, m *Manager) Frame {
	t.Helper()
	select {
	case f := <-m.Frames():
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestConnectDeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &scriptedDialer{}
	dialer.push(conn, nil)
	obs := &recordingObserver{}
	m := newTestManager(t, dialer, clock.NewFake(frameEpoch), obs)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)

	conn.msgs <- []byte(`{"type":"notification","id":"a","notificationType":"message"}`)
	conn.msgs <- []byte(`not json`)
	conn.msgs <- []byte(`{"type":"mystery"}`)
	conn.msgs <- []byte(`{"type":"notification_read","notificationId":"a"}`)
	conn.msgs <- []byte(`{"type":"notification_deleted","notificationId":"a"}`)

	assert.Equal(t, FrameNotification, receiveFrame(t, m).Type)
	assert.Equal(t, FrameNotificationRead, receiveFrame(t, m).Type)
	assert.Equal(t, FrameNotificationDeleted, receiveFrame(t, m).Type)

	assert.Equal(t, StateConnected, m.State(), "bad frames do not disturb the channel")
	obs.mu.Lock()
	assert.Equal(t, []string{"malformed", "unknown_type"}, obs.dropped)
	assert.Equal(t, []string{"notification", "notification_read", "notification_deleted"}, obs.received)
	obs.mu.Unlock()

	dialer.mu.Lock()
	assert.Equal(t, []string{"user-1"}, dialer.userIDs)
	dialer.mu.Unlock()
}

func TestConnectIsIdempotentWhileActive(t *testing.T) {
	t.Parallel()

	dialer := &scriptedDialer{}
	dialer.push(newFakeConn(), nil)
	m := newTestManager(t, dialer, clock.NewFake(frameEpoch), nil)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)
	require.NoError(t, m.Connect(t.Context(), "user-1"))

	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{Logger: logger.NewDiscardLogger()})
	require.Error(t, m.Connect(t.Context(), "user-1"), "no dialer")

	m = newTestManager(t, &scriptedDialer{}, clock.NewFake(frameEpoch), nil)
	require.Error(t, m.Connect(t.Context(), ""))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestBackoffGrowsThenFails(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	dialer := &scriptedDialer{} // every dial fails
	obs := &recordingObserver{}
	m := newTestManager(t, dialer, fake, obs)

	require.NoError(t, m.Connect(t.Context(), "user-1"))

	for i, want := range []time.Duration{1, 2, 4, 8, 16} {
		change := waitForState(t, m, StateReconnecting)
		assert.Equal(t, want*time.Second, change.Delay, "attempt %d", i)
		assert.Equal(t, i+1, change.Attempt)
		assert.Equal(t, 1, fake.Pending(), "exactly one reconnect timer")

		fake.Advance(change.Delay)
	}

	change := waitForState(t, m, StateFailed)
	require.Error(t, change.Err)
	assert.Equal(t, StateFailed, m.State())
	assert.Zero(t, fake.Pending(), "failed schedules nothing")
	assert.Equal(t, int32(6), dialer.dials.Load())

	obs.mu.Lock()
	assert.Len(t, obs.scheduled, 5)
	obs.mu.Unlock()
}

func TestConnectAfterFailedStartsOver(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	dialer := &scriptedDialer{}
	m := NewManager(Config{
		Dialer:      dialer,
		BaseDelay:   time.Second,
		MaxAttempts: 1,
		Clock:       fake,
		Logger:      logger.NewDiscardLogger(),
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	fake.Advance(waitForState(t, m, StateReconnecting).Delay)
	waitForState(t, m, StateFailed)

	dialer.push(newFakeConn(), nil)
	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)
	assert.Zero(t, m.Attempt())
}

func TestSuccessfulReconnectResetsAttempt(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	first := newFakeConn()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(nil, assert.AnError)
	second := newFakeConn()
	dialer.push(second, nil)
	m := newTestManager(t, dialer, fake, nil)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)

	close(first.msgs) // server hangs up
	change := waitForState(t, m, StateReconnecting)
	assert.Equal(t, time.Second, change.Delay)

	fake.Advance(change.Delay)
	change = waitForState(t, m, StateReconnecting)
	assert.Equal(t, 2*time.Second, change.Delay)

	fake.Advance(change.Delay)
	waitForState(t, m, StateConnected)
	assert.Zero(t, m.Attempt())

	close(second.msgs)
	change = waitForState(t, m, StateReconnecting)
	assert.Equal(t, time.Second, change.Delay, "backoff restarts after a successful open")
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	dialer := &scriptedDialer{}
	m := newTestManager(t, dialer, fake, nil)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateReconnecting)
	require.Equal(t, 1, fake.Pending())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, fake.Pending())

	fake.Advance(time.Hour)
	assert.Equal(t, int32(1), dialer.dials.Load(), "no dial after deliberate disconnect")
}

func TestDisconnectWhileConnectedDoesNotReconnect(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	conn := newFakeConn()
	dialer := &scriptedDialer{}
	dialer.push(conn, nil)
	m := newTestManager(t, dialer, fake, nil)

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)

	m.Close()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, fake.Pending())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection should be closed")
	}
}

func TestBlockedConsumerIsReleasedByDisconnect(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &scriptedDialer{}
	dialer.push(conn, nil)
	m := NewManager(Config{
		Dialer:      dialer,
		FrameBuffer: 1,
		Clock:       clock.NewFake(frameEpoch),
		Logger:      logger.NewDiscardLogger(),
	})

	require.NoError(t, m.Connect(t.Context(), "user-1"))
	waitForState(t, m, StateConnected)

	for range 3 {
		conn.msgs <- []byte(`{"type":"notification_read","notificationId":"x"}`)
	}
	// Nobody drains Frames; Close must still return.
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close blocked on a full frame buffer")
	}
}

// gatedConn holds its single frame until release closes and ignores Close,
// so the read completes only after the session is gone.
type gatedConn struct {
	release chan struct{}
	data    []byte
}

func (c *gatedConn) ReadMessage() ([]byte, error) {
	<-c.release
	return c.data, nil
}

func (c *gatedConn) Close() error { return nil }

func TestFrameReadAfterDisconnectIsDiscarded(t *testing.T) {
	t.Parallel()

	// A single run could pass by luck of select ordering.
	for i := range 20 {
		conn := &gatedConn{
			release: make(chan struct{}),
			data:    []byte(`{"type":"notification_read","notificationId":"late"}`),
		}
		dialer := &scriptedDialer{}
		dialer.push(conn, nil)
		obs := &recordingObserver{}
		m := NewManager(Config{
			Dialer:   dialer,
			Clock:    clock.NewFake(frameEpoch),
			Logger:   logger.NewDiscardLogger(),
			Observer: obs,
		})

		require.NoError(t, m.Connect(t.Context(), "user-1"))
		waitForState(t, m, StateConnected)

		m.Disconnect()
		close(conn.release)
		m.Close()

		select {
		case f := <-m.Frames():
			t.Fatalf("run %d: frame %+v delivered after disconnect", i, f)
		default:
		}
		assert.Equal(t, StateDisconnected, m.State())
		obs.mu.Lock()
		assert.Empty(t, obs.received, "run %d", i)
		obs.mu.Unlock()
	}
}

func TestReconnectDelayIsCapped(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(frameEpoch)
	dialer := &scriptedDialer{} // every dial fails
	m := NewManager(Config{
		Dialer:      dialer,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
		MaxAttempts: 40,
		Clock:       fake,
		Logger:      logger.NewDiscardLogger(),
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(t.Context(), "user-1"))

	for i := range 40 {
		change := waitForState(t, m, StateReconnecting)
		want := min(time.Second<<min(i, 3), 4*time.Second)
		assert.Equal(t, want, change.Delay, "attempt %d", i)
		fake.Advance(change.Delay)
	}

	waitForState(t, m, StateFailed)
}
