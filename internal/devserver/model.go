// Package devserver is a local stand-in for the notification service: the
// REST API the engine's backend client talks to, the WebSocket channel it
// listens on, and a /dev/emit hook for pushing events by hand.
package devserver

import (
	"encoding/json"
	"time"

	"github.com/readerline/notifyengine/internal/notification"
)

// NotificationRecord is the persisted form of a notification.
type NotificationRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	UserID      string    `gorm:"index:idx_user_created,priority:1;size:128;not null"`
	Category    string    `gorm:"size:32;not null"`
	Title       string    `gorm:"size:255"`
	Message     string    `gorm:"type:text"`
	Priority    string    `gorm:"size:16"`
	Read        bool      `gorm:"column:is_read;not null;default:false"`
	ActionURL   string    `gorm:"size:1024"`
	ActionLabel string    `gorm:"size:128"`
	Metadata    string    `gorm:"type:text"` // JSON object
	CreatedAt   time.Time `gorm:"index:idx_user_created,priority:2"`
}

// TableName pins the table name across drivers.
func (NotificationRecord) TableName() string {
	return "notifications"
}

// PreferencesRecord stores one user's preference set as JSON.
type PreferencesRecord struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name across drivers.
func (PreferencesRecord) TableName() string {
	return "notification_preferences"
}

func recordFromNotification(userID string, n *notification.Notification) (*NotificationRecord, error) {
	rec := &NotificationRecord{
		ID:        n.ID,
		UserID:    userID,
		Category:  string(n.Category),
		Title:     n.Title,
		Message:   n.Body,
		Priority:  string(n.Priority),
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC(),
	}
	if n.Action != nil {
		rec.ActionURL = n.Action.URL
		rec.ActionLabel = n.Action.Label
	}
	if len(n.Metadata) > 0 {
		data, err := json.Marshal(n.Metadata)
		if err != nil {
			return nil, err
		}
		rec.Metadata = string(data)
	}
	return rec, nil
}

// Notification converts the record back to the domain type.
func (r *NotificationRecord) Notification() *notification.Notification {
	category, _ := notification.ParseCategory(r.Category)
	priority, _ := notification.ParsePriority(r.Priority)

	n := &notification.Notification{
		ID:        r.ID,
		Category:  category,
		Title:     r.Title,
		Body:      r.Message,
		Read:      r.Read,
		Priority:  priority,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.ActionURL != "" || r.ActionLabel != "" {
		n.Action = &notification.ActionRef{URL: r.ActionURL, Label: r.ActionLabel}
	}
	if r.Metadata != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err == nil {
			n.Metadata = meta
		}
	}
	return n
}
