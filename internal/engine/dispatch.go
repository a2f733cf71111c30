package engine

import (
	"context"
	"time"

	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/realtime"
)

// loop is the single consumer of the channel's frames and state changes.
func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)

	frames := e.channel.Frames()
	states := e.channel.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			e.handleFrame(frame)
		case change := <-states:
			e.handleStateChange(change)
		}
	}
}

func (e *Engine) handleFrame(f realtime.Frame) {
	switch f.Type {
	case realtime.FrameNotification:
		e.receive(f.Notification, f.ExplicitUnread)
	case realtime.FrameNotificationRead:
		if e.store.MarkRead(f.NotificationID) {
			e.notificationsChanged()
		}
	case realtime.FrameNotificationDeleted:
		e.forget(f.NotificationID)
		if e.store.Remove(f.NotificationID) {
			e.toasts.DismissForNotification(f.NotificationID)
			e.notificationsChanged()
		}
	case realtime.FramePreferencesUpdated:
		e.setPreferences(f.Preferences)
		e.log.Info("preferences replaced from channel")
		e.publish(ChangePreferences)
	}
}

// receive stores an inbound notification and surfaces it when the
// preferences allow.
func (e *Engine) receive(n *notification.Notification, explicitUnread bool) {
	inserted := e.store.Upsert(n, explicitUnread)
	e.notificationsChanged()

	if !inserted || n.Read {
		return
	}
	if _, seen := e.surfaced.Get(n.ID); seen {
		return
	}

	decision := notification.Evaluate(n, e.Preferences(), e.clock.Now())
	e.metrics.RecordDecision(decision.Surface, string(decision.Reason))
	if !decision.Surface {
		e.log.Debug("notification suppressed",
			logger.String("notification_id", n.ID),
			logger.String("reason", string(decision.Reason)))
		return
	}
	e.surfaced.SetDefault(n.ID, struct{}{})

	e.toasts.Admit(*notification.ToastForNotification(n).WithDuration(decision.ToastDuration))

	if decision.Sound {
		e.spawn(func(context.Context) { e.playSound() })
	}
	if decision.Desktop {
		alert := n.Clone()
		e.spawn(func(ctx context.Context) { e.showDesktop(ctx, alert) })
	}
}

func (e *Engine) handleStateChange(change realtime.StateChange) {
	e.surfaced.DeleteExpired()
	e.tombstones.DeleteExpired()

	switch change.To {
	case realtime.StateConnected:
		e.toasts.Dismiss(connectionLostToastID)
		if e.connectedOnce && e.cfg.CatchUpOnReconnect {
			since := e.store.Latest()
			e.spawn(func(ctx context.Context) { e.catchUp(ctx, since) })
		}
		e.connectedOnce = true
	case realtime.StateFailed:
		e.log.Error("connection lost, reconnect attempts exhausted", logger.Error(change.Err))
		e.showConnectionLost()
	}
	e.publish(ChangeConnection)
}

// showConnectionLost admits the persistent error toast with a Retry action.
func (e *Engine) showConnectionLost() {
	toast := notification.NewToast("Real-time updates are paused.", notification.ToastTypeError).
		WithTitle("Connection lost").
		WithDuration(0).
		WithPriority(notification.PriorityHigh).
		WithAction("Retry", "", func() {
			if err := e.Reconnect(); err != nil {
				e.log.Warn("retry failed", logger.Error(err))
			}
		})
	toast.ID = connectionLostToastID
	e.toasts.Admit(*toast)
}

// catchUp fetches notifications missed while offline and upserts them
// without toasts. Ids removed locally meanwhile are skipped.
func (e *Engine) catchUp(ctx context.Context, since time.Time) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()

	var (
		list []*notification.Notification
		err  error
	)
	if since.IsZero() {
		list, err = e.backend.ListNotifications(ctx)
	} else {
		list, err = e.backend.ListNotificationsSince(ctx, since)
	}
	if err != nil {
		e.log.Warn("catch-up after reconnect failed", logger.Error(err))
		return
	}

	added := 0
	for _, n := range list {
		if e.deleted(n.ID) {
			continue
		}
		if e.store.Upsert(n, false) {
			added++
		}
	}
	e.log.Info("caught up after reconnect",
		logger.Int("received", len(list)),
		logger.Int("added", added))
	if len(list) > 0 {
		e.notificationsChanged()
	}
}

// forget records a local removal
func (e *Engine) forget(id string) {
	e.tombstones.SetDefault(id, struct{}{})
}

func (e *Engine) deleted(id string) bool {
	_, ok := e.tombstones.Get(id)
	return ok
}

func (e *Engine) notificationsChanged() {
	e.metrics.SetUnread(e.store.UnreadCount())
	e.publish(ChangeNotifications)
}
