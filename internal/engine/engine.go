// Package engine wires the notification components into one explicitly
// constructed instance with a Start/Stop lifecycle. A single dispatch loop
// consumes the realtime channel; consumers read snapshots and invoke user
// actions through the Engine's methods.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/readerline/notifyengine/internal/clock"
	"github.com/readerline/notifyengine/internal/desktop"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/observability/metrics"
	"github.com/readerline/notifyengine/internal/realtime"
)

// Defaults applied by New for zero config values.
const (
	DefaultMirrorTimeout    = 10 * time.Second
	DefaultLoadTimeout      = 15 * time.Second
	DefaultDedupTTL         = 10 * time.Minute
	DefaultTombstoneTTL     = 5 * time.Minute
	DefaultSubscriberBuffer = 32
)

// connectionLostToastID keeps at most one "Connection lost" toast visible.
const connectionLostToastID = "connection-lost"

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.NewStd("engine already started")
	// ErrNotRunning is returned by actions invoked outside Start/Stop.
	ErrNotRunning = errors.NewStd("engine not running")
)

// Channel is the realtime connection consumed by the dispatch loop.
// *realtime.Manager implements it.
type Channel interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	Close()
	State() realtime.State
	Frames() <-chan realtime.Frame
	StateChanges() <-chan realtime.StateChange
}

// Backend is the CRUD collaborator used for the initial load, catch-up and
// mirroring user actions. *backend.Client implements it.
type Backend interface {
	ListNotifications(ctx context.Context) ([]*notification.Notification, error)
	ListNotificationsSince(ctx context.Context, since time.Time) ([]*notification.Notification, error)
	GetPreferences(ctx context.Context) (*notification.Preferences, error)
	PutPreferences(ctx context.Context, prefs *notification.Preferences) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Config configures an Engine. Channel and Backend are required.
type Config struct {
	UserID  string
	Channel Channel
	Backend Backend

	// Notifier shows desktop alerts; nil disables them.
	Notifier desktop.Notifier
	// Sound plays the audible cue; nil is silent.
	Sound desktop.SoundPlayer

	MaxVisibleToasts int
	ToastPosition    notification.Position
	MaxNotifications int

	// CatchUpOnReconnect fetches notifications created while offline after
	// every reconnection.
	CatchUpOnReconnect bool
	MirrorTimeout      time.Duration
	LoadTimeout        time.Duration
	DedupTTL           time.Duration
	TombstoneTTL       time.Duration
	SubscriberBuffer   int

	// Location is used for day grouping in snapshots; nil means time.Local.
	Location *time.Location

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *metrics.EngineMetrics
}

func (c *Config) applyDefaults() {
	if c.Notifier == nil {
		c.Notifier = desktop.Disabled{}
	}
	if c.Sound == nil {
		c.Sound = desktop.Silent{}
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = DefaultMirrorTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = logger.Global().Module("engine")
	}
}

// Engine owns the Store, the ToastManager and the current preference set,
// and reacts to the realtime channel.
type Engine struct {
	cfg     Config
	store   *notification.Store
	toasts  *notification.ToastManager
	channel Channel
	backend Backend
	clock   clock.Clock
	log     logger.Logger
	metrics *metrics.EngineMetrics

	prefsMu sync.RWMutex
	prefs   *notification.Preferences

	// surfaced holds ids already announced by a toast; tombstones holds ids
	// removed locally so late backend results cannot resurrect them.
	surfaced   *cache.Cache
	tombstones *cache.Cache

	// connectedOnce is owned by the dispatch loop.
	connectedOnce bool

	lifeMu   sync.RWMutex
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup

	feed *feed
}

// New creates an Engine. It does not connect; call Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Channel == nil || cfg.Backend == nil {
		return nil, errors.Newf("engine requires a channel and a backend").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.UserID == "" {
		return nil, errors.Newf("engine requires a user id").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:     cfg,
		store:   notification.NewStore(cfg.MaxNotifications),
		channel: cfg.Channel,
		backend: cfg.Backend,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		prefs:   notification.DefaultPreferences(),
		// Janitors are disabled; expired entries are purged from the
		// dispatch loop so no goroutine outlives Stop.
		surfaced:   cache.New(cfg.DedupTTL, 0),
		tombstones: cache.New(cfg.TombstoneTTL, 0),
		feed:       newFeed(cfg.SubscriberBuffer),
	}
	e.toasts = notification.NewToastManager(notification.ToastManagerConfig{
		MaxVisible: cfg.MaxVisibleToasts,
		Position:   cfg.ToastPosition,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger.Module("toasts"),
		Observer:   cfg.Metrics,
		OnChange:   func() { e.publish(ChangeToasts) },
	})
	return e, nil
}

// Start loads the initial notifications and preferences concurrently, starts
// the dispatch loop and opens the channel. Load failures are logged and shown
// as a warning toast; the engine still starts with what it has.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return e.stateError(ErrAlreadyStarted, "start")
	}

	e.load(ctx)

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.loopDone = make(chan struct{})
	e.started = true
	go e.loop(e.ctx)

	if err := e.channel.Connect(e.ctx, e.cfg.UserID); err != nil {
		e.cancel()
		<-e.loopDone
		e.stopped = true
		return err
	}

	e.log.Info("engine started",
		logger.String("user_id", e.cfg.UserID),
		logger.Int("notifications", e.store.Len()),
		logger.Bool("catch_up_on_reconnect", e.cfg.CatchUpOnReconnect))
	return nil
}

// load fetches notifications and preferences in parallel
func (e *Engine) load(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()

	var (
		list  []*notification.Notification
		prefs *notification.Preferences
		g     errgroup.Group
	)
	g.Go(func() error {
		var err error
		list, err = e.backend.ListNotifications(ctx)
		if err != nil {
			return fmt.Errorf("load notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		prefs, err = e.backend.GetPreferences(ctx)
		if err != nil {
			return fmt.Errorf("load preferences: %w", err)
		}
		return nil
	})
	err := g.Wait()

	if list != nil {
		e.store.Load(list)
		e.metrics.SetUnread(e.store.UnreadCount())
	}
	if prefs != nil {
		e.setPreferences(prefs)
	}

	if err != nil {
		e.log.Warn("initial load incomplete", logger.Error(err))
		e.warn("Couldn't load notifications", "Showing what is available. New notifications will still arrive.")
	}
}

// Stop disconnects the channel, stops the dispatch loop, waits for pending
// backend calls and alerts, and cancels every toast timer. It is idempotent.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if !e.started || e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	e.lifeMu.Unlock()

	e.channel.Close()
	e.cancel()
	<-e.loopDone
	e.wg.Wait()
	e.toasts.Close()
	e.feed.close()

	e.log.Info("engine stopped")
}

// running reports whether actions may touch the engine
func (e *Engine) running() bool {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	return e.started && !e.stopped
}

// spawn runs fn on a tracked goroutine unless the engine is stopping.
func (e *Engine) spawn(fn func(ctx context.Context)) bool {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if !e.started || e.stopped {
		return false
	}
	ctx := e.ctx
	e.wg.Go(func() { fn(ctx) })
	return true
}

func (e *Engine) stateError(err error, op string) error {
	return errors.New(err).
		Component("engine").
		Category(errors.CategoryState).
		Context("operation", op).
		Build()
}

// warn shows a transient, dismissible warning toast
func (e *Engine) warn(title, message string) {
	e.toasts.Admit(*notification.NewToast(message, notification.ToastTypeWarning).
		WithTitle(title).
		WithPriority(notification.PriorityMedium))
}

func (e *Engine) setPreferences(p *notification.Preferences) {
	e.prefsMu.Lock()
	e.prefs = p.Clone()
	e.prefsMu.Unlock()
}
