package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/notification"
)

// FrameType discriminates inbound channel frames.
type FrameType string

const (
	FrameNotification        FrameType = "notification"
	FrameNotificationRead    FrameType = "notification_read"
	FrameNotificationDeleted FrameType = "notification_deleted"
	FramePreferencesUpdated  FrameType = "preferences_updated"
)

var (
	// ErrUnknownFrameType marks a well-formed frame whose type is not handled.
	ErrUnknownFrameType = errors.NewStd("unknown frame type")
	// ErrMalformedFrame marks a frame that is not valid JSON or lacks
	// required fields for its type.
	ErrMalformedFrame = errors.NewStd("malformed frame")
)

// Frame is one decoded inbound event. Only the fields for Type are set.
type Frame struct {
	Type FrameType
	// Notification and ExplicitUnread are set for FrameNotification.
	Notification   *notification.Notification
	ExplicitUnread bool
	// NotificationID is set for read and deleted frames.
	NotificationID string
	// Preferences is the complete replacement set for FramePreferencesUpdated.
	Preferences *notification.Preferences
	ReceivedAt  time.Time
}

type frameEnvelope struct {
	Type           string          `json:"type"`
	NotificationID string          `json:"notificationId"`
	Preferences    json.RawMessage `json:"preferences"`
}

// DecodeFrame parses one channel message. receivedAt becomes the creation
// time of notifications that carry none. Errors wrap ErrMalformedFrame or
// ErrUnknownFrameType.
func DecodeFrame(data []byte, receivedAt time.Time) (Frame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, frameError(fmt.Errorf("%w: %w", ErrMalformedFrame, err), "")
	}
	if env.Type == "" {
		return Frame{}, frameError(fmt.Errorf("%w: missing type", ErrMalformedFrame), "")
	}

	frame := Frame{Type: FrameType(env.Type), ReceivedAt: receivedAt}

	switch frame.Type {
	case FrameNotification:
		n, explicitUnread, err := notification.DecodeNotification(data, receivedAt)
		if err != nil {
			return Frame{}, frameError(fmt.Errorf("%w: %w", ErrMalformedFrame, err), env.Type)
		}
		frame.Notification = n
		frame.ExplicitUnread = explicitUnread

	case FrameNotificationRead, FrameNotificationDeleted:
		if env.NotificationID == "" {
			return Frame{}, frameError(fmt.Errorf("%w: missing notificationId", ErrMalformedFrame), env.Type)
		}
		frame.NotificationID = env.NotificationID

	case FramePreferencesUpdated:
		if len(env.Preferences) == 0 || string(env.Preferences) == "null" {
			return Frame{}, frameError(fmt.Errorf("%w: missing preferences", ErrMalformedFrame), env.Type)
		}
		prefs, err := notification.DecodePreferences(env.Preferences)
		if err != nil {
			return Frame{}, frameError(fmt.Errorf("%w: %w", ErrMalformedFrame, err), env.Type)
		}
		frame.Preferences = prefs

	default:
		return Frame{}, frameError(fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type), env.Type)
	}

	return frame, nil
}

func frameError(err error, frameType string) error {
	b := errors.New(err).
		Component("realtime").
		Category(errors.CategoryFrame)
	if frameType != "" {
		b = b.Context("frame_type", frameType)
	}
	return b.Build()
}

// DropReason labels why a frame was discarded.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownFrameType):
		return "unknown_type"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed"
	default:
		return "error"
	}
}
