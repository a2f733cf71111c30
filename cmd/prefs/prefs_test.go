package prefs

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/devserver"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

type memoryStore struct {
	prefs  *notification.Preferences
	puts   int
	getErr error
}

func (m *memoryStore) GetPreferences(context.Context) (*notification.Preferences, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.prefs.Clone(), nil
}

func (m *memoryStore) PutPreferences(_ context.Context, p *notification.Preferences) error {
	m.puts++
	m.prefs = p.Clone()
	return nil
}

func TestToggle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, p *notification.Preferences)
		wantErr bool
	}{
		{
			name:  "channel off",
			args:  []string{"push", "off"},
			check: func(t *testing.T, p *notification.Preferences) { assert.False(t, p.Push.Enabled) },
		},
		{
			name: "category on",
			args: []string{"email", "promotion", "on"},
			check: func(t *testing.T, p *notification.Preferences) {
				assert.True(t, p.Email.Allows(notification.CategoryPromotion))
			},
		},
		{
			name: "in-app category off",
			args: []string{"in-app", "session-reminder", "no"},
			check: func(t *testing.T, p *notification.Preferences) {
				assert.False(t, p.InApp.Allows(notification.CategorySessionReminder))
				assert.True(t, p.InApp.Enabled)
			},
		},
		{name: "unknown channel", args: []string{"sms", "off"}, wantErr: true},
		{name: "unknown category", args: []string{"push", "weather", "off"}, wantErr: true},
		{name: "bad switch", args: []string{"push", "maybe"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := notification.DefaultPreferences()
			err := toggle(p, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestSetOption(t *testing.T) {
	t.Parallel()

	p := notification.DefaultPreferences()
	require.NoError(t, setOption(p, "sound", "off"))
	require.NoError(t, setOption(p, "desktop", "off"))
	require.NoError(t, setOption(p, "weekend-pause", "on"))
	assert.False(t, p.InApp.Sound)
	assert.False(t, p.InApp.Desktop)
	assert.True(t, p.Schedule.WeekendPause)

	require.Error(t, setOption(p, "volume", "on"))
}

func TestSetQuietHours(t *testing.T) {
	t.Parallel()

	p := notification.DefaultPreferences()
	require.NoError(t, setQuietHours(p, []string{"23:00", "06:30"}, false, "Europe/Helsinki"))
	assert.Equal(t, notification.QuietHours{
		Enabled: true,
		Start:   notification.MustTimeOfDay("23:00"),
		End:     notification.MustTimeOfDay("06:30"),
	}, p.Schedule.QuietHours)
	assert.Equal(t, "Europe/Helsinki", p.Schedule.Timezone)

	require.NoError(t, setQuietHours(p, nil, true, ""))
	assert.False(t, p.Schedule.QuietHours.Enabled)
	assert.Equal(t, notification.MustTimeOfDay("23:00"), p.Schedule.QuietHours.Start, "disabling keeps the window")

	require.Error(t, setQuietHours(p, []string{"25:00", "06:00"}, false, ""))
}

func TestApplyValidatesBeforeSaving(t *testing.T) {
	t.Parallel()

	store := &memoryStore{prefs: notification.DefaultPreferences()}
	var out bytes.Buffer

	err := apply(context.Background(), store, &out, func(p *notification.Preferences) error {
		p.Schedule.Timezone = "Nowhere/Special"
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, store.puts)

	err = apply(context.Background(), store, &out, func(p *notification.Preferences) error {
		return setOption(p, "sound", "off")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.puts)
	assert.False(t, store.prefs.InApp.Sound)
	assert.Contains(t, out.String(), "Preferences saved.")
}

func TestApplyStopsOnFetchError(t *testing.T) {
	t.Parallel()

	store := &memoryStore{getErr: errors.NewStd("service unavailable")}
	err := apply(context.Background(), store, &bytes.Buffer{}, func(*notification.Preferences) error { return nil })
	require.Error(t, err)
	assert.Zero(t, store.puts)
}

func TestPrintPreferences(t *testing.T) {
	t.Parallel()

	p := notification.DefaultPreferences()

	var js bytes.Buffer
	require.NoError(t, printPreferences(&js, p, false))
	decoded, err := notification.DecodePreferences(js.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	var y bytes.Buffer
	require.NoError(t, printPreferences(&y, p, true))
	assert.Contains(t, y.String(), "quietHours:")
	assert.Contains(t, y.String(), "22:00")
}

func TestCommandsAgainstDevServer(t *testing.T) {
	t.Parallel()

	repo, err := devserver.OpenRepository(devserver.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "prefs.db"),
	}, logger.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	srv, err := devserver.New(devserver.Config{Repository: repo, Token: "secret", Logger: logger.NewDiscardLogger()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	settings := &conf.Settings{
		Service: conf.ServiceSettings{APIURL: ts.URL + "/api", Token: "secret", Timeout: 5 * time.Second},
	}
	run := func(args ...string) string {
		t.Helper()
		cmd := Command(settings)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute(), out.String())
		return out.String()
	}

	run("quiet-hours", "22:30", "06:00", "--timezone", "UTC")
	run("toggle", "in-app", "promotion", "off")
	run("set", "sound", "off")

	stored, err := repo.Preferences(context.Background(), devserver.DefaultUserID)
	require.NoError(t, err)
	assert.True(t, stored.Schedule.QuietHours.Enabled)
	assert.Equal(t, notification.MustTimeOfDay("22:30"), stored.Schedule.QuietHours.Start)
	assert.False(t, stored.InApp.Allows(notification.CategoryPromotion))
	assert.False(t, stored.InApp.Sound)

	out := run("show")
	assert.Contains(t, out, `"sound": false`)
}
