package notification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		message   string
		toastType ToastType
	}{
		{"info toast", "Information message", ToastTypeInfo},
		{"success toast", "Success message", ToastTypeSuccess},
		{"warning toast", "Warning message", ToastTypeWarning},
		{"error toast", "Error message", ToastTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			toast := NewToast(tt.message, tt.toastType)

			assert.Equal(t, tt.message, toast.Message)
			assert.Equal(t, tt.toastType, toast.Type)
			assert.Equal(t, DefaultDuration, toast.Duration)

			_, err := uuid.Parse(toast.ID)
			require.NoError(t, err, "should generate valid UUID")
			assert.True(t, toast.Timestamp.IsZero(), "admission stamps the time")
		})
	}
}

func TestToastChaining(t *testing.T) {
	t.Parallel()

	called := false
	toast := NewToast("msg", ToastTypeInfo)
	result := toast.
		WithTitle("Title").
		WithDuration(3 * time.Second).
		WithPriority(PriorityHigh).
		WithAvatar("https://cdn.example.com/a.png").
		WithAction("Retry", "", func() { called = true })

	assert.Same(t, toast, result, "should return the same toast instance for chaining")
	assert.Equal(t, "Title", toast.Title)
	assert.Equal(t, 3*time.Second, toast.Duration)
	assert.Equal(t, PriorityHigh, toast.Priority)
	require.NotNil(t, toast.Action)
	toast.Action.Handler()
	assert.True(t, called)
}

func TestToastForNotification(t *testing.T) {
	t.Parallel()

	n := &Notification{
		ID:       "n1",
		Category: CategoryPayment,
		Title:    "Payment Processed",
		Body:     "$75.00",
		Priority: PriorityMedium,
		Action:   &ActionRef{URL: "/payments/1"},
		Metadata: map[string]any{"avatar": "https://cdn.example.com/u.png"},
	}

	toast := ToastForNotification(n)
	assert.Equal(t, ToastType("payment"), toast.Type)
	assert.Equal(t, "Payment Processed", toast.Title)
	assert.Equal(t, "$75.00", toast.Message)
	assert.Equal(t, "n1", toast.NotificationID)
	assert.Equal(t, "https://cdn.example.com/u.png", toast.Avatar)
	require.NotNil(t, toast.Action)
	assert.Equal(t, "View", toast.Action.Label)
	assert.False(t, toast.IsPersistent())
}
