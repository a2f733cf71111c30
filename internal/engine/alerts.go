package engine

import (
	"context"

	"github.com/readerline/notifyengine/internal/desktop"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

// Alert kinds and outcomes reported to metrics.
const (
	alertDesktop = "desktop"
	alertSound   = "sound"

	outcomeShown     = "shown"
	outcomePlayed    = "played"
	outcomeDenied    = "denied"
	outcomeThrottled = "throttled"
	outcomeError     = "error"
)

// showDesktop displays n as a desktop alert. An undetermined permission is
// requested once for this attempt; anything but granted degrades silently to
// toast-only.
func (e *Engine) showDesktop(ctx context.Context, n *notification.Notification) {
	notifier := e.cfg.Notifier

	perm := notifier.Permission()
	if perm == desktop.PermissionDefault {
		var err error
		perm, err = notifier.RequestPermission(ctx)
		if err != nil {
			e.log.Debug("desktop permission request failed", logger.Error(err))
			e.metrics.RecordAlert(alertDesktop, outcomeError)
			return
		}
	}
	if perm != desktop.PermissionGranted {
		e.metrics.RecordAlert(alertDesktop, outcomeDenied)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.MirrorTimeout)
	defer cancel()
	if err := notifier.Show(ctx, n); err != nil {
		outcome := outcomeError
		switch {
		case errors.Is(err, desktop.ErrThrottled):
			outcome = outcomeThrottled
		case errors.Is(err, desktop.ErrPermissionDenied):
			outcome = outcomeDenied
		}
		e.log.Debug("desktop alert not shown",
			logger.String("notification_id", n.ID),
			logger.String("outcome", outcome),
			logger.Error(err))
		e.metrics.RecordAlert(alertDesktop, outcome)
		return
	}
	e.metrics.RecordAlert(alertDesktop, outcomeShown)
}

func (e *Engine) playSound() {
	if e.cfg.Sound.Play() {
		e.metrics.RecordAlert(alertSound, outcomePlayed)
		return
	}
	e.metrics.RecordAlert(alertSound, outcomeThrottled)
}
