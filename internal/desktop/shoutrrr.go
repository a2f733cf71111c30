package desktop

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

// DefaultAlertsPerMinute bounds desktop alerts when no budget is configured.
const DefaultAlertsPerMinute = 20

// Prompter asks the user whether desktop alerts may be shown.
type Prompter func(ctx context.Context) (bool, error)

// ShoutrrrConfig configures a ShoutrrrNotifier.
type ShoutrrrConfig struct {
	// URLs are shoutrrr service URLs, e.g. ntfy://ntfy.sh/topic.
	URLs []string
	// Permission is the initial permission; default requires a prompt.
	Permission      Permission
	AlertsPerMinute int
	Timeout         time.Duration
	// Prompter resolves a default permission. Nil grants it.
	Prompter Prompter
	Logger   logger.Logger
}

// ShoutrrrNotifier shows desktop alerts by sending them to shoutrrr services.
type ShoutrrrNotifier struct {
	mu         sync.Mutex
	permission Permission
	sender     *router.ServiceRouter
	limiter    *rate.Limiter
	prompter   Prompter
	log        logger.Logger
}

// NewShoutrrrNotifier validates the service URLs and builds the sender.
func NewShoutrrrNotifier(cfg ShoutrrrConfig) (*ShoutrrrNotifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one desktop alert URL is required").
			Component("desktop").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		// shoutrrr errors can echo the URL, which may carry credentials
		return nil, errors.Newf("invalid desktop alert URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("desktop").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout > 0 {
		sender.Timeout = cfg.Timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	perMinute := cfg.AlertsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultAlertsPerMinute
	}
	permission := cfg.Permission
	if permission == "" {
		permission = PermissionDefault
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Global().Module("desktop")
	}

	return &ShoutrrrNotifier{
		permission: permission,
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		prompter:   cfg.Prompter,
		log:        l,
	}, nil
}

func (s *ShoutrrrNotifier) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// RequestPermission prompts at most once; the answer is remembered. A prompt
// error leaves the permission at default.
func (s *ShoutrrrNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.permission != PermissionDefault {
		return s.permission, nil
	}
	if s.prompter == nil {
		s.permission = PermissionGranted
		return s.permission, nil
	}

	ok, err := s.prompter(ctx)
	if err != nil {
		return PermissionDefault, errors.New(err).
			Component("desktop").
			Category(errors.CategoryPermission).
			Context("operation", "request_permission").
			Build()
	}
	if ok {
		s.permission = PermissionGranted
	} else {
		s.permission = PermissionDenied
	}
	s.log.Info("desktop permission resolved", logger.String("permission", string(s.permission)))
	return s.permission, nil
}

// Show sends n to every configured service. The first failure is returned.
func (s *ShoutrrrNotifier) Show(ctx context.Context, n *notification.Notification) error {
	if s.Permission() != PermissionGranted {
		return ErrPermissionDenied
	}
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	body := n.Body
	if n.Action != nil && n.Action.URL != "" {
		body = fmt.Sprintf("%s\n%s", body, n.Action.URL)
	}

	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			return errors.Newf("desktop alert failed: %s", logger.RedactSensitiveData(err.Error())).
				Component("desktop").
				Category(errors.CategoryIntegration).
				Context("notification_id", n.ID).
				Build()
		}
	}
	return nil
}
