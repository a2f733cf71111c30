// Package app assembles the engine and its collaborators from Settings.
package app

import (
	"io"
	"os"

	"github.com/readerline/notifyengine/internal/backend"
	"github.com/readerline/notifyengine/internal/clock"
	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/desktop"
	"github.com/readerline/notifyengine/internal/engine"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/httpclient"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/observability/metrics"
	"github.com/readerline/notifyengine/internal/realtime"
)

// Options carries the runtime pieces that do not come from Settings.
type Options struct {
	// Metrics is optional.
	Metrics *metrics.EngineMetrics
	// BellOut receives the terminal bell; nil means stdout.
	BellOut io.Writer
	// Prompter resolves an undetermined desktop permission.
	Prompter desktop.Prompter
	Clock    clock.Clock
	Logger   logger.Logger
}

// App is an assembled, not yet started engine.
type App struct {
	Engine  *engine.Engine
	Backend *backend.Client
	Channel *realtime.Manager
}

// NewBackendClient builds the REST client for the configured service.
func NewBackendClient(s *conf.Settings, m *metrics.EngineMetrics) (*backend.Client, error) {
	cfg := backend.Config{
		BaseURL: s.Service.APIURL,
		Token:   s.Service.Token,
		HTTP: &httpclient.Config{
			DefaultTimeout: s.Service.Timeout,
			UserAgent:      "notifyengine",
		},
		Logger: logger.Global().Module("backend"),
	}
	if m != nil {
		cfg.Observer = m
	}
	return backend.New(cfg)
}

// New wires the channel, backend, alerts and engine for s.
func New(s *conf.Settings, opts Options) (*App, error) {
	if s.User.ID == "" {
		return nil, errors.Newf("user.id is required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("app")
	}

	loc, err := conf.LoadLocation(s.Engine.Timezone)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("setting", "engine.timezone").
			Build()
	}

	client, err := NewBackendClient(s, opts.Metrics)
	if err != nil {
		return nil, err
	}

	dialer, err := realtime.NewWebSocketDialer(realtime.WebSocketConfig{
		URL:       s.Service.WSURL,
		Token:     s.Service.Token,
		ReadLimit: s.Realtime.ReadLimit,
		PongWait:  s.Realtime.PongWait,
		Logger:    logger.Global().Module("realtime"),
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	channelCfg := realtime.Config{
		Dialer:      dialer,
		BaseDelay:   s.Realtime.BaseDelay,
		MaxDelay:    s.Realtime.MaxDelay,
		MaxAttempts: s.Realtime.MaxAttempts,
		FrameBuffer: s.Realtime.Buffer,
		Clock:       opts.Clock,
		Logger:      logger.Global().Module("realtime"),
	}
	if opts.Metrics != nil {
		channelCfg.Observer = opts.Metrics
	}
	channel := realtime.NewManager(channelCfg)

	notifier, err := newNotifier(s, opts)
	if err != nil {
		channel.Close()
		client.Close()
		return nil, err
	}

	var sound desktop.SoundPlayer = desktop.Silent{}
	if s.Sound.Enabled {
		out := opts.BellOut
		if out == nil {
			out = os.Stdout
		}
		sound = desktop.NewBellPlayer(out, s.Sound.MaxPerMinute, opts.Clock)
	}

	eng, err := engine.New(engine.Config{
		UserID:             s.User.ID,
		Channel:            channel,
		Backend:            client,
		Notifier:           notifier,
		Sound:              sound,
		MaxVisibleToasts:   s.Toasts.MaxVisible,
		ToastPosition:      notification.Position(s.Toasts.Position),
		MaxNotifications:   s.Engine.MaxNotifications,
		CatchUpOnReconnect: s.Engine.CatchUpOnReconnect,
		MirrorTimeout:      s.Engine.MirrorTimeout,
		LoadTimeout:        s.Service.Timeout,
		DedupTTL:           s.Engine.DedupTTL,
		Location:           loc,
		Clock:              opts.Clock,
		Logger:             logger.Global().Module("engine"),
		Metrics:            opts.Metrics,
	})
	if err != nil {
		channel.Close()
		client.Close()
		return nil, err
	}

	opts.Logger.Debug("engine assembled",
		logger.String("user_id", s.User.ID),
		logger.String("channel", logger.RedactURL(s.Service.WSURL)),
		logger.String("api", logger.RedactURL(s.Service.APIURL)),
		logger.Bool("desktop", s.Desktop.Enabled),
		logger.Bool("sound", s.Sound.Enabled))

	return &App{Engine: eng, Backend: client, Channel: channel}, nil
}

// Close stops the engine, closes the channel even if the engine never
// started, and releases the backend's connections.
func (a *App) Close() {
	a.Engine.Stop()
	a.Channel.Close()
	a.Backend.Close()
}

func newNotifier(s *conf.Settings, opts Options) (desktop.Notifier, error) {
	if !s.Desktop.Enabled {
		return desktop.Disabled{}, nil
	}
	perm, _ := desktop.ParsePermission(s.Desktop.Permission)
	return desktop.NewShoutrrrNotifier(desktop.ShoutrrrConfig{
		URLs:            s.Desktop.URLs,
		Permission:      perm,
		AlertsPerMinute: s.Desktop.AlertsPerMinute,
		Timeout:         s.Engine.MirrorTimeout,
		Prompter:        opts.Prompter,
		Logger:          logger.Global().Module("desktop"),
	})
}
