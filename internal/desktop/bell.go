package desktop

import (
	"io"
	"sync"

	"github.com/readerline/notifyengine/internal/clock"
)

// SoundPlayer plays the audible cue for a surfaced notification.
type SoundPlayer interface {
	// Play reports whether the cue was played or throttled.
	Play() bool
}

// BellPlayer rings the terminal bell, at most PerMinute times a minute.
type BellPlayer struct {
	mu      sync.Mutex
	w       io.Writer
	limiter *RateLimiter
}

// NewBellPlayer writes BEL characters to w.
func NewBellPlayer(w io.Writer, perMinute int, clk clock.Clock) *BellPlayer {
	return &BellPlayer{
		w:       w,
		limiter: NewRateLimiter(RateLimiterConfig{PerMinute: perMinute}, clk),
	}
}

func (b *BellPlayer) Play() bool {
	if !b.limiter.Allow() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err == nil
}

// Silent is a SoundPlayer that never plays.
type Silent struct{}

func (Silent) Play() bool { return false }
