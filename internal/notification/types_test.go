package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/notifyengine/internal/errors"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Category
		wantOK bool
	}{
		{"PAYMENT", CategoryPayment, true},
		{"SESSION_REMINDER", CategorySessionReminder, true},
		{"session-reminder", CategorySessionReminder, true},
		{" review ", CategoryReview, true},
		{"promotion", CategoryPromotion, true},
		{"birthday", CategorySystem, false},
		{"", CategorySystem, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseCategory(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestParsePriorityAndRank(t *testing.T) {
	t.Parallel()

	p, ok := ParsePriority("MEDIUM")
	assert.True(t, ok)
	assert.Equal(t, PriorityMedium, p)

	p, ok = ParsePriority("critical")
	assert.True(t, ok)
	assert.Equal(t, PriorityUrgent, p)

	p, ok = ParsePriority("")
	assert.False(t, ok)
	assert.Equal(t, PriorityMedium, p)

	assert.True(t, PriorityUrgent.AtLeast(PriorityHigh))
	assert.True(t, PriorityHigh.AtLeast(PriorityHigh))
	assert.False(t, PriorityLow.AtLeast(PriorityMedium))
	assert.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityUrgent.Rank())
}

func TestDecodeNotificationDefaults(t *testing.T) {
	t.Parallel()

	received := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	n, explicitUnread, err := DecodeNotification([]byte(`{
		"id": "n1",
		"notificationType": "PAYMENT",
		"title": "Payment Processed",
		"message": "$75.00"
	}`), received)
	require.NoError(t, err)

	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, CategoryPayment, n.Category)
	assert.Equal(t, PriorityMedium, n.Priority)
	assert.Equal(t, received, n.CreatedAt)
	assert.False(t, n.Read)
	assert.False(t, explicitUnread)
	assert.Nil(t, n.Action)
}

func TestDecodeNotificationFull(t *testing.T) {
	t.Parallel()

	n, explicitUnread, err := DecodeNotification([]byte(`{
		"id": "n2",
		"notificationType": "session_reminder",
		"title": "Session soon",
		"message": "Your session starts in 10 minutes",
		"priority": "HIGH",
		"isRead": false,
		"createdAt": "2024-05-01T08:00:00Z",
		"actionUrl": "/sessions/42",
		"actionLabel": "Join",
		"metadata": {"sessionId": "42", "tags": ["a", "b"]}
	}`), time.Now())
	require.NoError(t, err)

	assert.Equal(t, PriorityHigh, n.Priority)
	assert.True(t, explicitUnread)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), n.CreatedAt.UTC())
	require.NotNil(t, n.Action)
	assert.Equal(t, "/sessions/42", n.Action.URL)
	assert.Equal(t, "Join", n.Action.Label)
	assert.Equal(t, "42", n.Metadata["sessionId"])
}

func TestDecodeNotificationRejectsMissingID(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeNotification([]byte(`{"title":"x"}`), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidNotification)

	_, _, err = DecodeNotification([]byte(`{`), time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNotificationJSONShape(t *testing.T) {
	t.Parallel()

	n := &Notification{
		ID:        "n3",
		Category:  CategoryReview,
		Title:     "New review",
		Body:      "5 stars",
		Read:      true,
		Priority:  PriorityLow,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Action:    &ActionRef{URL: "/reviews/1", Label: "Open"},
	}

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "review", raw["notificationType"])
	assert.Equal(t, "5 stars", raw["message"])
	assert.Equal(t, true, raw["isRead"])
	assert.Equal(t, "/reviews/1", raw["actionUrl"])
	assert.Equal(t, "2024-01-02T03:04:05Z", raw["createdAt"])
}

func TestNotificationCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &Notification{
		ID:     "n4",
		Action: &ActionRef{URL: "/a"},
		Metadata: map[string]any{
			"nested": map[string]any{"k": "v"},
			"list":   []any{"x"},
		},
	}

	clone := orig.Clone()
	clone.Action.URL = "/b"
	clone.Metadata["nested"].(map[string]any)["k"] = "changed"
	clone.Metadata["list"].([]any)[0] = "y"

	assert.Equal(t, "/a", orig.Action.URL)
	assert.Equal(t, "v", orig.Metadata["nested"].(map[string]any)["k"])
	assert.Equal(t, "x", orig.Metadata["list"].([]any)[0])
	assert.Nil(t, (*Notification)(nil).Clone())
}
