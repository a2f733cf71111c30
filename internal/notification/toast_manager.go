package notification

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readerline/notifyengine/internal/clock"
	"github.com/readerline/notifyengine/internal/logger"
)

// DefaultMaxVisibleToasts is the visible-set cap when none is configured.
const DefaultMaxVisibleToasts = 5

// Position anchors the toast stack on screen.
type Position string

const (
	PositionTopRight     Position = "top-right"
	PositionTopLeft      Position = "top-left"
	PositionTopCenter    Position = "top-center"
	PositionBottomRight  Position = "bottom-right"
	PositionBottomLeft   Position = "bottom-left"
	PositionBottomCenter Position = "bottom-center"
)

// NewestFirst reports whether the newest toast is drawn at the start of the
// stack for this anchor.
func (p Position) NewestFirst() bool {
	switch p {
	case PositionBottomRight, PositionBottomLeft, PositionBottomCenter:
		return false
	default:
		return true
	}
}

// Valid reports whether p is a known anchor.
func (p Position) Valid() bool {
	switch p {
	case PositionTopRight, PositionTopLeft, PositionTopCenter,
		PositionBottomRight, PositionBottomLeft, PositionBottomCenter:
		return true
	}
	return false
}

// ToastObserver receives lifecycle events, typically for metrics.
type ToastObserver interface {
	ToastAdmitted(toastType string, priority string)
	ToastRemoved(reason string)
	VisibleToasts(count int)
}

// ToastManagerConfig configures a ToastManager.
type ToastManagerConfig struct {
	MaxVisible int
	Position   Position
	Clock      clock.Clock
	Logger     logger.Logger
	Observer   ToastObserver
	// OnChange runs after every change to the visible set, outside the lock.
	OnChange func()
}

// ToastView is a read-only view of a visible toast.
type ToastView struct {
	Toast
	AdmittedAt time.Time
	Paused     bool
	Remaining  time.Duration
	// Progress is the remaining fraction in [0, 1]; persistent toasts report 1.
	Progress float64
}

type toastEntry struct {
	toast      Toast
	seq        uint64
	admittedAt time.Time
	remaining  time.Duration
	resumedAt  time.Time
	paused     bool
	timer      clock.Timer
	// gen invalidates callbacks of timers replaced by pause/resume
	gen uint64
}

type dismissal struct {
	fn     func(DismissReason)
	reason DismissReason
}

// ToastManager owns the visible toast set: admission with a cap, per-toast
// decay timers with pause/resume, and exactly-once dismissal callbacks.
type ToastManager struct {
	mu       sync.Mutex
	entries  map[string]*toastEntry
	seq      uint64
	closed   bool
	max      int
	position Position
	clock    clock.Clock
	log      logger.Logger
	observer ToastObserver
	onChange func()
}

// NewToastManager creates a ToastManager. Zero config values fall back to
// five visible toasts, top-right anchoring, the real clock and the global logger.
func NewToastManager(cfg ToastManagerConfig) *ToastManager {
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = DefaultMaxVisibleToasts
	}
	if !cfg.Position.Valid() {
		cfg.Position = PositionTopRight
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("toasts")
	}
	return &ToastManager{
		entries:  make(map[string]*toastEntry),
		max:      cfg.MaxVisible,
		position: cfg.Position,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		observer: cfg.Observer,
		onChange: cfg.OnChange,
	}
}

// Admit adds t to the visible set and returns its id. Missing ids are
// generated, missing priority becomes medium and DefaultDuration resolves via
// ToastDurationFor. When the set is full the oldest evictable toast (neither
// urgent nor persistent) is evicted; if none is evictable the cap is
// exceeded. Admitting an id that is already visible is a no-op.
func (m *ToastManager) Admit(t Toast) string {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Duration < 0 {
		t.Duration = ToastDurationFor(t.Priority)
	}
	if t.Type == "" {
		t.Type = ToastTypeInfo
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ""
	}
	if _, exists := m.entries[t.ID]; exists {
		m.mu.Unlock()
		return t.ID
	}

	now := m.clock.Now()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}

	var fired []dismissal
	for len(m.entries) >= m.max {
		victim := m.oldestEvictableLocked()
		if victim == nil {
			m.log.Debug("toast cap exceeded, no evictable toast",
				logger.Int("visible", len(m.entries)),
				logger.Int("max", m.max))
			break
		}
		fired = append(fired, m.removeLocked(victim, DismissEvicted)...)
	}

	m.seq++
	e := &toastEntry{
		toast:      t,
		seq:        m.seq,
		admittedAt: now,
		remaining:  t.Duration,
		resumedAt:  now,
	}
	m.entries[t.ID] = e
	m.scheduleLocked(e)
	visible := len(m.entries)
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ToastAdmitted(string(t.Type), string(t.Priority))
		m.observer.VisibleToasts(visible)
	}
	m.log.Debug("toast admitted",
		logger.String("toast_id", t.ID),
		logger.String("type", string(t.Type)),
		logger.Duration("duration", t.Duration))

	m.finish(fired)
	return t.ID
}

// Dismiss removes the toast with id and reports whether it was visible.
func (m *ToastManager) Dismiss(id string) bool {
	return m.remove(id, DismissDismissed)
}

// DismissAll removes every visible toast.
func (m *ToastManager) DismissAll() int {
	m.mu.Lock()
	var fired []dismissal
	count := 0
	for _, e := range m.orderedLocked() {
		fired = append(fired, m.removeLocked(e, DismissDismissed)...)
		count++
	}
	m.mu.Unlock()

	m.finish(fired)
	return count
}

// DismissForNotification removes toasts announcing notification id.
func (m *ToastManager) DismissForNotification(id string) int {
	m.mu.Lock()
	var fired []dismissal
	count := 0
	for _, e := range m.orderedLocked() {
		if e.toast.NotificationID == id {
			fired = append(fired, m.removeLocked(e, DismissDismissed)...)
			count++
		}
	}
	m.mu.Unlock()

	m.finish(fired)
	return count
}

// Activate runs the toast's action handler, if any, and dismisses it.
func (m *ToastManager) Activate(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	var handler func()
	if ok && e.toast.Action != nil {
		handler = e.toast.Action.Handler
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if handler != nil {
		handler()
	}
	m.remove(id, DismissDismissed)
	return true
}

// Pause freezes the countdown of one toast, as on hover.
func (m *ToastManager) Pause(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.paused {
		return false
	}
	e.paused = true
	if e.toast.Duration > 0 {
		e.remaining = max(0, e.remaining-m.clock.Now().Sub(e.resumedAt))
		m.stopTimerLocked(e)
	}
	return true
}

// Resume continues the countdown from the exact remaining duration.
func (m *ToastManager) Resume(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || !e.paused {
		return false
	}
	e.paused = false
	e.resumedAt = m.clock.Now()
	m.scheduleLocked(e)
	return true
}

// Progress returns the remaining fraction of the toast's lifetime.
func (m *ToastManager) Progress(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return 0, false
	}
	return m.viewLocked(e).Progress, true
}

// Get returns a view of one visible toast.
func (m *ToastManager) Get(id string) (ToastView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ToastView{}, false
	}
	return m.viewLocked(e), true
}

// Visible returns the visible toasts in admission order.
func (m *ToastManager) Visible() []ToastView {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.orderedLocked()
	views := make([]ToastView, len(ordered))
	for i, e := range ordered {
		views[i] = m.viewLocked(e)
	}
	return views
}

// Display returns the visible toasts in stack order for the configured anchor.
func (m *ToastManager) Display() []ToastView {
	views := m.Visible()
	if m.position.NewestFirst() {
		slices.Reverse(views)
	}
	return views
}

// Position returns the configured anchor.
func (m *ToastManager) Position() Position {
	return m.position
}

// Len returns the number of visible toasts.
func (m *ToastManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close cancels every timer and drops all toasts without invoking callbacks.
// Later admissions are ignored.
func (m *ToastManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		m.stopTimerLocked(e)
	}
	clear(m.entries)
	m.closed = true
}

func (m *ToastManager) remove(id string, reason DismissReason) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	var fired []dismissal
	if ok {
		fired = m.removeLocked(e, reason)
	}
	m.mu.Unlock()

	if ok {
		m.finish(fired)
	}
	return ok
}

// removeLocked drops e and returns its pending callback
func (m *ToastManager) removeLocked(e *toastEntry, reason DismissReason) []dismissal {
	m.stopTimerLocked(e)
	delete(m.entries, e.toast.ID)

	m.log.Debug("toast removed",
		logger.String("toast_id", e.toast.ID),
		logger.String("reason", string(reason)))
	if m.observer != nil {
		m.observer.ToastRemoved(string(reason))
	}

	if e.toast.OnDismiss == nil {
		return []dismissal{{reason: reason}}
	}
	return []dismissal{{fn: e.toast.OnDismiss, reason: reason}}
}

// finish runs dismissal callbacks and change hooks outside the lock
func (m *ToastManager) finish(fired []dismissal) {
	for _, d := range fired {
		if d.fn != nil {
			d.fn(d.reason)
		}
	}
	if m.observer != nil {
		m.observer.VisibleToasts(m.Len())
	}
	if m.onChange != nil {
		m.onChange()
	}
}

func (m *ToastManager) scheduleLocked(e *toastEntry) {
	if e.toast.Duration <= 0 || e.paused {
		return
	}
	m.stopTimerLocked(e)
	gen := e.gen
	id := e.toast.ID
	e.timer = m.clock.AfterFunc(e.remaining, func() { m.expire(id, gen) })
}

func (m *ToastManager) stopTimerLocked(e *toastEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (m *ToastManager) expire(id string, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.gen != gen || e.paused {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	fired := m.removeLocked(e, DismissExpired)
	m.mu.Unlock()

	m.finish(fired)
}

func (m *ToastManager) oldestEvictableLocked() *toastEntry {
	var oldest *toastEntry
	for _, e := range m.entries {
		if !e.toast.evictable() {
			continue
		}
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	return oldest
}

func (m *ToastManager) orderedLocked() []*toastEntry {
	ordered := make([]*toastEntry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b *toastEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return ordered
}

func (m *ToastManager) viewLocked(e *toastEntry) ToastView {
	v := ToastView{
		Toast:      e.toast,
		AdmittedAt: e.admittedAt,
		Paused:     e.paused,
		Progress:   1,
	}
	if e.toast.Duration <= 0 {
		return v
	}

	remaining := e.remaining
	if !e.paused {
		remaining = max(0, remaining-m.clock.Now().Sub(e.resumedAt))
	}
	v.Remaining = remaining
	v.Progress = float64(remaining) / float64(e.toast.Duration)
	return v
}
