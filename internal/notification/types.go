// Package notification holds the domain model of the real-time notification
// engine: persistent notifications and their store, delivery preferences and
// the evaluator that applies them, and the ephemeral toast lifecycle.
package notification

import (
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
)

// Category classifies a persistent notification.
type Category string

const (
	CategorySessionReminder Category = "session_reminder"
	CategoryMessage         Category = "message"
	CategoryPayment         Category = "payment"
	CategoryReview          Category = "review"
	CategoryFavorite        Category = "favorite"
	CategoryPurchase        Category = "purchase"
	CategorySystem          Category = "system"
	CategoryPromotion       Category = "promotion"
)

var allCategories = []Category{
	CategorySessionReminder,
	CategoryMessage,
	CategoryPayment,
	CategoryReview,
	CategoryFavorite,
	CategoryPurchase,
	CategorySystem,
	CategoryPromotion,
}

// Categories returns every known category in display order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory accepts wire values case-insensitively with '-' and '_'
// interchangeable. Unknown values yield CategorySystem and false.
func ParseCategory(s string) (Category, bool) {
	normalized := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, c := range allCategories {
		if c == normalized {
			return c, true
		}
	}
	return CategorySystem, false
}

// Valid reports whether c is one of the known categories in canonical form.
func (c Category) Valid() bool {
	return slices.Contains(allCategories, c)
}

// Priority is the urgency of a notification or toast.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts wire values case-insensitively; "critical" is an alias
// of urgent. Empty or unknown values yield PriorityMedium and false.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, true
	case "medium", "normal":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "urgent", "critical":
		return PriorityUrgent, true
	default:
		return PriorityMedium, false
	}
}

// Rank orders priorities low < medium < high < urgent. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether p is as urgent as other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// IsUrgent reports whether p is the top priority.
func (p Priority) IsUrgent() bool {
	return p == PriorityUrgent
}

// Sentinel errors for notification operations
var (
	ErrNotificationNotFound = errors.Newf("notification not found").
		Component("notification").
		Category(errors.CategoryNotFound).
		Build()
	ErrInvalidNotification = errors.Newf("invalid notification").
		Component("notification").
		Category(errors.CategoryValidation).
		Build()
)

// ActionRef is an optional click-through target.
type ActionRef struct {
	URL   string
	Label string
}

// Notification is a persistent notification owned by the Store.
type Notification struct {
	ID        string
	Category  Category
	Title     string
	Body      string
	Read      bool
	Priority  Priority
	CreatedAt time.Time
	Action    *ActionRef
	Metadata  map[string]any
}

// wireNotification is the JSON shape shared by the channel and the backend.
type wireNotification struct {
	ID          string         `json:"id"`
	Type        string         `json:"notificationType"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	IsRead      *bool          `json:"isRead,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`
	ActionURL   string         `json:"actionUrl,omitempty"`
	ActionLabel string         `json:"actionLabel,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON renders the wire shape.
func (n Notification) MarshalJSON() ([]byte, error) {
	read := n.Read
	w := wireNotification{
		ID:       n.ID,
		Type:     string(n.Category),
		Title:    n.Title,
		Message:  n.Body,
		IsRead:   &read,
		Priority: string(n.Priority),
		Metadata: n.Metadata,
	}
	if !n.CreatedAt.IsZero() {
		createdAt := n.CreatedAt
		w.CreatedAt = &createdAt
	}
	if n.Action != nil {
		w.ActionURL = n.Action.URL
		w.ActionLabel = n.Action.Label
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape leniently: unknown categories become
// system, missing priority becomes medium. Missing createdAt is left zero.
func (n *Notification) UnmarshalJSON(data []byte) error {
	decoded, _, err := DecodeNotification(data, time.Time{})
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}

// DecodeNotification parses a wire notification. receivedAt is used when the
// payload carries no createdAt. explicitUnread reports whether the payload
// carried isRead:false, which is the only way an upsert may clear read state.
func DecodeNotification(data []byte, receivedAt time.Time) (n *Notification, explicitUnread bool, err error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, false, errors.New(err).
			Component("notification").
			Category(errors.CategoryValidation).
			Context("operation", "decode_notification").
			Build()
	}
	if w.ID == "" {
		return nil, false, errors.Join(ErrInvalidNotification, errors.NewStd("missing id"))
	}

	category, _ := ParseCategory(w.Type)
	priority, _ := ParsePriority(w.Priority)

	n = &Notification{
		ID:        w.ID,
		Category:  category,
		Title:     w.Title,
		Body:      w.Message,
		Priority:  priority,
		CreatedAt: receivedAt,
		Metadata:  w.Metadata,
	}
	if w.CreatedAt != nil && !w.CreatedAt.IsZero() {
		n.CreatedAt = *w.CreatedAt
	}
	if w.IsRead != nil {
		n.Read = *w.IsRead
		explicitUnread = !*w.IsRead
	}
	if w.ActionURL != "" || w.ActionLabel != "" {
		n.Action = &ActionRef{URL: w.ActionURL, Label: w.ActionLabel}
	}

	return n, explicitUnread, nil
}

// Clone creates a deep copy of the notification, including Metadata.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}

	clone := *n
	if n.Action != nil {
		action := *n.Action
		clone.Action = &action
	}
	if n.Metadata != nil {
		clone.Metadata = deepCopyMetadata(n.Metadata)
	}
	return &clone
}

func deepCopyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return deepCopyValue(src).(map[string]any)
}

// deepCopyValue recursively copies maps and slices. Pointers and structs are
// shared.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}

	original := reflect.ValueOf(v)

	switch original.Kind() {
	case reflect.Map:
		newMap := reflect.MakeMapWithSize(original.Type(), original.Len())
		iter := original.MapRange()
		for iter.Next() {
			copied := deepCopyValue(iter.Value().Interface())
			if copied == nil {
				newMap.SetMapIndex(iter.Key(), reflect.Zero(original.Type().Elem()))
			} else {
				newMap.SetMapIndex(iter.Key(), reflect.ValueOf(copied))
			}
		}
		return newMap.Interface()

	case reflect.Slice:
		newSlice := reflect.MakeSlice(original.Type(), original.Len(), original.Len())
		for i := range original.Len() {
			copied := deepCopyValue(original.Index(i).Interface())
			if copied == nil {
				newSlice.Index(i).Set(reflect.Zero(original.Type().Elem()))
			} else {
				newSlice.Index(i).Set(reflect.ValueOf(copied))
			}
		}
		return newSlice.Interface()

	default:
		return v
	}
}

// FilterOptions narrows Store.List results.
type FilterOptions struct {
	Categories []Category
	// MinPriority keeps notifications at or above this priority.
	MinPriority Priority
	UnreadOnly  bool
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}
