package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPreferencesJSON = `{
	"email":  {"enabled": true, "sessionReminders": true, "messages": true, "paymentUpdates": true, "reviews": true, "favorites": true, "purchases": true, "systemUpdates": true, "promotions": false},
	"push":   {"enabled": false, "sessionReminders": true, "messages": true, "paymentUpdates": true, "reviews": true, "favorites": true, "purchases": true, "systemUpdates": true, "promotions": false},
	"inApp":  {"enabled": true, "sessionReminders": true, "messages": false, "paymentUpdates": true, "reviews": true, "favorites": true, "purchases": true, "systemUpdates": true, "promotions": true, "sound": true},
	"schedule": {"quietHours": {"enabled": true, "start": "22:00", "end": "07:00"}, "weekendPause": false, "timezone": "Europe/Helsinki"}
}`

func TestDecodePreferences(t *testing.T) {
	t.Parallel()

	prefs, err := DecodePreferences([]byte(validPreferencesJSON))
	require.NoError(t, err)

	assert.True(t, prefs.Email.Enabled)
	assert.False(t, prefs.Email.Promotions)
	assert.False(t, prefs.Push.Enabled)
	assert.False(t, prefs.InApp.Allows(CategoryMessage))
	assert.True(t, prefs.InApp.Allows(CategoryPayment))
	assert.True(t, prefs.InApp.Sound)
	assert.False(t, prefs.InApp.Desktop, "absent desktop flag defaults to false")
	assert.True(t, prefs.Schedule.QuietHours.Enabled)
	assert.Equal(t, MustTimeOfDay("22:00"), prefs.Schedule.QuietHours.Start)
	assert.Equal(t, MustTimeOfDay("07:00"), prefs.Schedule.QuietHours.End)
	assert.Equal(t, "Europe/Helsinki", prefs.Schedule.Timezone)
}

func TestDecodePreferencesRejectsIncompletePayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing push channel", func(m map[string]any) { delete(m, "push") }},
		{"missing enabled flag", func(m map[string]any) { delete(m["inApp"].(map[string]any), "enabled") }},
		{"missing category flag", func(m map[string]any) { delete(m["email"].(map[string]any), "reviews") }},
		{"missing schedule", func(m map[string]any) { delete(m, "schedule") }},
		{"missing timezone", func(m map[string]any) { delete(m["schedule"].(map[string]any), "timezone") }},
		{"bad quiet hours start", func(m map[string]any) {
			m["schedule"].(map[string]any)["quietHours"].(map[string]any)["start"] = "25:99"
		}},
		{"unknown timezone", func(m map[string]any) { m["schedule"].(map[string]any)["timezone"] = "Mars/Base" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(validPreferencesJSON), &m))
			tt.mutate(m)
			data, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = DecodePreferences(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPreferences)
		})
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()

	prefs := DefaultPreferences()
	prefs.InApp.Set(CategoryPromotion, false)

	data, err := json.Marshal(prefs)
	require.NoError(t, err)

	decoded, err := DecodePreferences(data)
	require.NoError(t, err)
	assert.Equal(t, prefs, decoded)
}

func TestQuietHoursContains(t *testing.T) {
	t.Parallel()

	at := func(hhmm string) time.Time {
		tod := MustTimeOfDay(hhmm)
		return time.Date(2024, 3, 13, tod.Hour, tod.Minute, 0, 0, time.UTC)
	}

	overnight := QuietHours{Enabled: true, Start: MustTimeOfDay("22:00"), End: MustTimeOfDay("07:00")}
	daytime := QuietHours{Enabled: true, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:30")}
	empty := QuietHours{Enabled: true, Start: MustTimeOfDay("08:00"), End: MustTimeOfDay("08:00")}

	tests := []struct {
		name string
		q    QuietHours
		at   string
		want bool
	}{
		{"overnight before start", overnight, "21:59", false},
		{"overnight at start", overnight, "22:00", true},
		{"overnight past midnight", overnight, "03:00", true},
		{"overnight at end is outside", overnight, "07:00", false},
		{"overnight midday", overnight, "12:00", false},
		{"daytime inside", daytime, "12:00", true},
		{"daytime end exclusive", daytime, "17:30", false},
		{"daytime before", daytime, "08:59", false},
		{"empty window", empty, "08:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.q.Contains(at(tt.at)))
		})
	}
}

func TestTimeOfDayText(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, "07:05", tod.String())
	assert.Equal(t, 425, tod.Minutes())

	_, err = ParseTimeOfDay("7pm")
	require.Error(t, err)
}
