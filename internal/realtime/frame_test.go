package realtime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/notification"
)

var frameEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const validPreferencesFrame = `{"type":"preferences_updated","preferences":{
	"email":{"enabled":true,"sessionReminders":true,"messages":true,"paymentUpdates":true,"reviews":true,"favorites":true,"purchases":true,"systemUpdates":true,"promotions":false},
	"push":{"enabled":true,"sessionReminders":true,"messages":true,"paymentUpdates":true,"reviews":true,"favorites":true,"purchases":true,"systemUpdates":true,"promotions":true},
	"inApp":{"enabled":true,"sessionReminders":true,"messages":true,"paymentUpdates":false,"reviews":true,"favorites":true,"purchases":true,"systemUpdates":true,"promotions":true,"sound":true,"desktop":false},
	"schedule":{"quietHours":{"enabled":true,"start":"22:00","end":"07:00"},"weekendPause":false,"timezone":"Europe/Helsinki"}}}`

func TestDecodeFrameNotification(t *testing.T) {
	t.Parallel()

	frame, err := DecodeFrame([]byte(`{"type":"notification","id":"n1","notificationType":"PAYMENT",
		"title":"Payment Processed","message":"$75.00","priority":"MEDIUM"}`), frameEpoch)
	require.NoError(t, err)

	assert.Equal(t, FrameNotification, frame.Type)
	require.NotNil(t, frame.Notification)
	assert.Equal(t, "n1", frame.Notification.ID)
	assert.Equal(t, notification.CategoryPayment, frame.Notification.Category)
	assert.Equal(t, notification.PriorityMedium, frame.Notification.Priority)
	assert.Equal(t, frameEpoch, frame.Notification.CreatedAt, "missing createdAt defaults to receipt time")
	assert.False(t, frame.ExplicitUnread)
	assert.Equal(t, frameEpoch, frame.ReceivedAt)
}

func TestDecodeFrameExplicitUnread(t *testing.T) {
	t.Parallel()

	frame, err := DecodeFrame([]byte(`{"type":"notification","id":"n1","notificationType":"message","isRead":false}`), frameEpoch)
	require.NoError(t, err)
	assert.True(t, frame.ExplicitUnread)
}

func TestDecodeFrameByID(t *testing.T) {
	t.Parallel()

	for _, ft := range []FrameType{FrameNotificationRead, FrameNotificationDeleted} {
		frame, err := DecodeFrame([]byte(`{"type":"`+string(ft)+`","notificationId":"n9"}`), frameEpoch)
		require.NoError(t, err)
		assert.Equal(t, ft, frame.Type)
		assert.Equal(t, "n9", frame.NotificationID)
	}
}

func TestDecodeFramePreferences(t *testing.T) {
	t.Parallel()

	frame, err := DecodeFrame([]byte(validPreferencesFrame), frameEpoch)
	require.NoError(t, err)
	require.NotNil(t, frame.Preferences)
	assert.False(t, frame.Preferences.InApp.PaymentUpdates)
	assert.True(t, frame.Preferences.Schedule.QuietHours.Enabled)
	assert.Equal(t, "Europe/Helsinki", frame.Preferences.Schedule.Timezone)
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		unknown bool
	}{
		{"not json", `{"type":`, false},
		{"array", `[1,2]`, false},
		{"missing type", `{"id":"n1"}`, false},
		{"notification without id", `{"type":"notification","title":"x"}`, false},
		{"read without id", `{"type":"notification_read"}`, false},
		{"deleted without id", `{"type":"notification_deleted","notificationId":""}`, false},
		{"preferences missing", `{"type":"preferences_updated"}`, false},
		{"preferences null", `{"type":"preferences_updated","preferences":null}`, false},
		{"preferences partial", `{"type":"preferences_updated","preferences":{"email":{"enabled":true}}}`, false},
		{"unknown type", `{"type":"session_started","sessionId":"s1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeFrame([]byte(tt.data), frameEpoch)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryFrame))
			if tt.unknown {
				require.ErrorIs(t, err, ErrUnknownFrameType)
				assert.NotErrorIs(t, err, ErrMalformedFrame)
				assert.Equal(t, "unknown_type", DropReason(err))
			} else {
				require.ErrorIs(t, err, ErrMalformedFrame)
				assert.NotErrorIs(t, err, ErrUnknownFrameType)
				assert.Equal(t, "malformed", DropReason(err))
			}
		})
	}
}

func TestDecodeFramePartialPreferencesWrapsInvalid(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte(`{"type":"preferences_updated","preferences":{"email":{"enabled":true}}}`), frameEpoch)
	require.ErrorIs(t, err, notification.ErrInvalidPreferences)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	want := []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}
	for attempt, d := range want {
		assert.Equal(t, d, Backoff(base, time.Minute, attempt))
	}
}

func TestBackoffStaysBounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    time.Duration
		ceiling time.Duration
		attempt int
		want    time.Duration
	}{
		{"capped before overflow", time.Second, 5 * time.Minute, 33, 5 * time.Minute},
		{"capped where shift goes negative", time.Second, 5 * time.Minute, 34, 5 * time.Minute},
		{"capped at shift width", time.Second, 5 * time.Minute, 63, 5 * time.Minute},
		{"large base", time.Hour, 5 * time.Minute, 3, 5 * time.Minute},
		{"no ceiling saturates", time.Second, 0, 64, time.Duration(math.MaxInt64)},
		{"exact ceiling", time.Second, 8 * time.Second, 3, 8 * time.Second},
		{"negative attempt", time.Second, time.Minute, -1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Backoff(tt.base, tt.ceiling, tt.attempt)
			assert.Equal(t, tt.want, got)
			assert.Positive(t, got)
		})
	}
}

func TestStateActive(t *testing.T) {
	t.Parallel()

	assert.True(t, StateConnecting.Active())
	assert.True(t, StateConnected.Active())
	assert.True(t, StateReconnecting.Active())
	assert.False(t, StateDisconnected.Active())
	assert.False(t, StateFailed.Active())
}
