package notification

import (
	"time"

	"github.com/google/uuid"
)

// ToastType tags a toast. Besides the generic kinds it includes one type per
// notification category.
type ToastType string

const (
	ToastTypeSuccess ToastType = "success"
	ToastTypeError   ToastType = "error"
	ToastTypeWarning ToastType = "warning"
	ToastTypeInfo    ToastType = "info"
)

// ToastTypeForCategory returns the toast type used for notifications of c.
func ToastTypeForCategory(c Category) ToastType {
	return ToastType(c)
}

// DefaultDuration asks the ToastManager to derive the duration from priority.
const DefaultDuration time.Duration = -1

// DismissReason explains why a toast left the visible set.
type DismissReason string

const (
	DismissExpired   DismissReason = "expired"
	DismissDismissed DismissReason = "dismissed"
	DismissEvicted   DismissReason = "evicted"
)

// ToastAction is an optional button on a toast.
type ToastAction struct {
	Label string
	URL   string
	// Handler runs when the action is activated.
	Handler func()
}

// Toast is an ephemeral, UI-only message. It is never persisted.
type Toast struct {
	ID      string
	Type    ToastType
	Title   string
	Message string
	Action  *ToastAction
	// Duration of 0 keeps the toast until dismissed; DefaultDuration resolves
	// from Priority at admission.
	Duration time.Duration
	Priority Priority
	Avatar   string
	// NotificationID links a toast to the persistent notification it announces.
	NotificationID string
	Timestamp      time.Time
	// OnDismiss runs exactly once when the toast expires, is dismissed or is
	// evicted.
	OnDismiss func(DismissReason)
}

// NewToast creates a toast with a fresh id and priority-derived duration.
// Timestamp stays zero so the ToastManager stamps it from its own clock.
func NewToast(message string, toastType ToastType) *Toast {
	return &Toast{
		ID:       uuid.New().String(),
		Type:     toastType,
		Message:  message,
		Duration: DefaultDuration,
	}
}

// ToastForNotification builds the toast announcing n.
func ToastForNotification(n *Notification) *Toast {
	t := NewToast(n.Body, ToastTypeForCategory(n.Category)).
		WithTitle(n.Title).
		WithPriority(n.Priority)
	t.NotificationID = n.ID
	if n.Action != nil && n.Action.URL != "" {
		label := n.Action.Label
		if label == "" {
			label = "View"
		}
		t.Action = &ToastAction{Label: label, URL: n.Action.URL}
	}
	if avatar, ok := n.Metadata["avatar"].(string); ok {
		t.Avatar = avatar
	}
	return t
}

// WithTitle sets the title and returns the toast for chaining
func (t *Toast) WithTitle(title string) *Toast {
	t.Title = title
	return t
}

// WithDuration sets the display duration and returns the toast for chaining
func (t *Toast) WithDuration(d time.Duration) *Toast {
	t.Duration = d
	return t
}

// WithPriority sets the priority and returns the toast for chaining
func (t *Toast) WithPriority(p Priority) *Toast {
	t.Priority = p
	return t
}

// WithAction adds an action button and returns the toast for chaining
func (t *Toast) WithAction(label, url string, handler func()) *Toast {
	t.Action = &ToastAction{Label: label, URL: url, Handler: handler}
	return t
}

// WithAvatar sets the avatar URL and returns the toast for chaining
func (t *Toast) WithAvatar(avatar string) *Toast {
	t.Avatar = avatar
	return t
}

// WithOnDismiss sets the dismissal callback and returns the toast for chaining
func (t *Toast) WithOnDismiss(fn func(DismissReason)) *Toast {
	t.OnDismiss = fn
	return t
}

// IsPersistent reports whether the toast stays until dismissed.
func (t *Toast) IsPersistent() bool {
	return t.Duration == 0
}

// evictable reports whether the cap may push this toast out
func (t *Toast) evictable() bool {
	return !t.Priority.IsUrgent() && !t.IsPersistent()
}
