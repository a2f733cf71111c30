package engine

import (
	"context"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/realtime"
)

// Snapshot is a consistent, deep-copied view of the notifications.
type Snapshot struct {
	// Notifications are ordered newest first.
	Notifications []*notification.Notification
	UnreadCount   int
	// Groups buckets Notifications by calendar day relative to now.
	Groups []notification.DayGroup
}

// Snapshot returns the current notifications, unread count and day groups.
func (e *Engine) Snapshot() Snapshot {
	s := e.store.Snapshot()
	return Snapshot{
		Notifications: s.Notifications,
		UnreadCount:   s.UnreadCount,
		Groups:        notification.GroupByDay(s.Notifications, e.clock.Now(), e.cfg.Location),
	}
}

// Notifications returns matching notifications, newest first.
func (e *Engine) Notifications(filter *notification.FilterOptions) []*notification.Notification {
	return e.store.List(filter)
}

// UnreadCount returns the number of unread notifications.
func (e *Engine) UnreadCount() int {
	return e.store.UnreadCount()
}

// VisibleToasts returns the toasts in display order for the configured anchor.
func (e *Engine) VisibleToasts() []notification.ToastView {
	return e.toasts.Display()
}

// ToastProgress returns the remaining fraction of a toast's lifetime.
func (e *Engine) ToastProgress(id string) (float64, bool) {
	return e.toasts.Progress(id)
}

// ConnectionState returns the channel state.
func (e *Engine) ConnectionState() realtime.State {
	return e.channel.State()
}

// Preferences returns a copy of the current preference set.
func (e *Engine) Preferences() *notification.Preferences {
	e.prefsMu.RLock()
	defer e.prefsMu.RUnlock()
	return e.prefs.Clone()
}

// MarkAsRead marks id read locally and mirrors it to the backend. Marking an
// unknown or already read notification does nothing.
func (e *Engine) MarkAsRead(id string) error {
	if !e.running() {
		return e.stateError(ErrNotRunning, "mark_read")
	}
	if !e.store.MarkRead(id) {
		return nil
	}
	e.notificationsChanged()
	e.mirror("mark the notification as read", func(ctx context.Context) error {
		return e.backend.MarkRead(ctx, id)
	})
	return nil
}

// MarkAllAsRead marks every notification read and mirrors it.
func (e *Engine) MarkAllAsRead() error {
	if !e.running() {
		return e.stateError(ErrNotRunning, "mark_all_read")
	}
	if e.store.MarkAllRead() == 0 {
		return nil
	}
	e.notificationsChanged()
	e.mirror("mark all notifications as read", e.backend.MarkAllRead)
	return nil
}

// DeleteNotification removes id locally, dismisses its toast and mirrors the
// deletion.
func (e *Engine) DeleteNotification(id string) error {
	if !e.running() {
		return e.stateError(ErrNotRunning, "delete")
	}
	e.forget(id)
	if !e.store.Remove(id) {
		return nil
	}
	e.toasts.DismissForNotification(id)
	e.notificationsChanged()
	e.mirror("delete the notification", func(ctx context.Context) error {
		return e.backend.Delete(ctx, id)
	})
	return nil
}

// DeleteAllNotifications clears the Store and mirrors it.
func (e *Engine) DeleteAllNotifications() error {
	if !e.running() {
		return e.stateError(ErrNotRunning, "delete_all")
	}
	for _, n := range e.store.List(nil) {
		e.forget(n.ID)
	}
	if e.store.RemoveAll() == 0 {
		return nil
	}
	e.notificationsChanged()
	e.mirror("clear notifications", e.backend.DeleteAll)
	return nil
}

// UpdatePreferences validates and applies prefs locally, then mirrors them.
// Invalid preferences are rejected and the current set is kept.
func (e *Engine) UpdatePreferences(prefs *notification.Preferences) error {
	if prefs == nil {
		return errors.ValidationError("preferences are required")
	}
	if err := prefs.Validate(); err != nil {
		return err
	}
	if !e.running() {
		return e.stateError(ErrNotRunning, "update_preferences")
	}
	e.setPreferences(prefs)
	e.publish(ChangePreferences)

	snapshot := prefs.Clone()
	e.mirror("save preferences", func(ctx context.Context) error {
		return e.backend.PutPreferences(ctx, snapshot)
	})
	return nil
}

// ShowToast admits a consumer-supplied toast and returns its id.
func (e *Engine) ShowToast(t notification.Toast) string {
	return e.toasts.Admit(t)
}

// DismissToast removes a visible toast.
func (e *Engine) DismissToast(id string) bool {
	return e.toasts.Dismiss(id)
}

// HoverToast pauses a toast's countdown.
func (e *Engine) HoverToast(id string) bool {
	return e.toasts.Pause(id)
}

// UnhoverToast resumes a toast's countdown from where it paused.
func (e *Engine) UnhoverToast(id string) bool {
	return e.toasts.Resume(id)
}

// ActivateToast is a click-through: it marks the linked notification read,
// runs the toast's action and dismisses it.
func (e *Engine) ActivateToast(id string) bool {
	view, ok := e.toasts.Get(id)
	if !ok {
		return false
	}
	if view.NotificationID != "" {
		if err := e.MarkAsRead(view.NotificationID); err != nil {
			e.log.Debug("click-through mark read skipped", logger.Error(err))
		}
	}
	return e.toasts.Activate(id)
}

// Reconnect reopens the channel after a failure. It is a no-op while the
// channel is active.
func (e *Engine) Reconnect() error {
	if !e.running() {
		return e.stateError(ErrNotRunning, "reconnect")
	}
	e.toasts.Dismiss(connectionLostToastID)
	return e.channel.Connect(e.ctx, e.cfg.UserID)
}

// mirror sends a mutation to the backend on a tracked goroutine. Failures
// are logged and shown as a warning; local state is never rolled back.
func (e *Engine) mirror(action string, call func(ctx context.Context) error) {
	e.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.MirrorTimeout)
		defer cancel()

		start := time.Now()
		err := call(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) && e.ctx.Err() != nil {
			return
		}
		e.log.Warn("backend mirror failed",
			logger.String("action", action),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		e.warn("Sync failed", "Couldn't "+action+". Your change was kept on this device.")
	})
}
