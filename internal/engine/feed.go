package engine

import (
	"context"
	"slices"
	"sync"
	"time"
)

// ChangeKind names what changed.
type ChangeKind string

const (
	ChangeNotifications ChangeKind = "notifications"
	ChangeToasts        ChangeKind = "toasts"
	ChangeConnection    ChangeKind = "connection"
	ChangePreferences   ChangeKind = "preferences"
)

// Change is a hint that consumer-visible state moved. Consumers re-read the
// engine rather than relying on the payload.
type Change struct {
	Kind ChangeKind
	At   time.Time
}

type subscriber struct {
	ch     chan Change
	ctx    context.Context
	cancel context.CancelFunc
}

// feed fans changes out to subscribers without blocking the publisher. A
// subscriber whose buffer is full misses that change.
type feed struct {
	mu     sync.Mutex
	subs   []*subscriber
	buffer int
	closed bool
}

func newFeed(buffer int) *feed {
	return &feed{buffer: buffer}
}

// Subscribe returns a buffered change channel and a context that is cancelled
// on Unsubscribe or Stop. The channel is never closed.
func (e *Engine) Subscribe() (<-chan Change, context.Context) {
	return e.feed.subscribe()
}

// Unsubscribe removes a channel returned by Subscribe.
func (e *Engine) Unsubscribe(ch <-chan Change) {
	e.feed.unsubscribe(ch)
}

func (e *Engine) publish(kind ChangeKind) {
	e.feed.publish(Change{Kind: kind, At: e.clock.Now()})
}

func (f *feed) subscribe() (<-chan Change, context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		ch:     make(chan Change, f.buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	if f.closed {
		cancel()
		return sub.ch, ctx
	}
	f.subs = append(f.subs, sub)
	return sub.ch, ctx
}

func (f *feed) unsubscribe(ch <-chan Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, sub := range f.subs {
		if sub.ch == ch {
			sub.cancel()
			f.subs = slices.Delete(f.subs, i, i+1)
			return
		}
	}
}

func (f *feed) publish(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- c:
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		sub.cancel()
	}
	f.subs = nil
	f.closed = true
}
