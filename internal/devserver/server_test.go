package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/notifyengine/internal/backend"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
	"github.com/readerline/notifyengine/internal/realtime"
)

const testToken = "dev-token"

type testServer struct {
	*Server
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	srv, err := New(Config{
		Repository: newTestRepository(t),
		Token:      testToken,
		Logger:     logger.NewDiscardLogger(),
		Now:        func() time.Time { return repoEpoch },
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testServer{Server: srv, http: ts}
}

func (s *testServer) client(t *testing.T) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Config{
		BaseURL: s.http.URL + "/api",
		Token:   testToken,
		Logger:  logger.NewDiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (s *testServer) emit(t *testing.T, body string) (int, emitResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.http.URL+"/dev/emit", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out emitResponse
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

// dialChannel connects a raw channel listener for userID.
func (s *testServer) dialChannel(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws/notifications?userId=" + userID
	header := http.Header{"Authorization": {"Bearer " + testToken}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return s.Connections(userID) > 0 },
		2*time.Second, 5*time.Millisecond, "connection not registered")
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := realtime.DecodeFrame(data, repoEpoch)
	require.NoError(t, err, "frame: %s", data)
	return frame
}

func TestNewRequiresRepository(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestBackendClientAgainstServer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.client(t)
	ctx := context.Background()

	code, first := s.emit(t, `{"type":"notification","notificationType":"message","title":"New message","message":"Hi","createdAt":"2024-06-05T10:00:00Z"}`)
	require.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, first.ID, "id is assigned")
	code, _ = s.emit(t, `{"type":"notification","id":"pay-1","notificationType":"payment","title":"Payment received","priority":"high"}`)
	require.Equal(t, http.StatusAccepted, code)

	list, err := c.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pay-1", list[0].ID, "newest first")
	assert.True(t, list[0].CreatedAt.Equal(repoEpoch), "createdAt defaults to server time")
	assert.Equal(t, notification.CategoryMessage, list[1].Category)

	since, err := c.ListNotificationsSince(ctx, repoEpoch.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "pay-1", since[0].ID)

	require.NoError(t, c.MarkRead(ctx, "pay-1"))
	list, err = c.ListNotifications(ctx)
	require.NoError(t, err)
	assert.True(t, list[0].Read)

	err = c.MarkRead(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, c.MarkAllRead(ctx))
	require.NoError(t, c.Delete(ctx, first.ID))
	require.NoError(t, c.DeleteAll(ctx))
	list, err = c.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.client(t)
	ctx := context.Background()

	prefs, err := c.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.DefaultPreferences(), prefs)

	prefs.Schedule.WeekendPause = true
	prefs.InApp.Set(notification.CategoryReview, false)
	require.NoError(t, c.PutPreferences(ctx, prefs))

	got, err := c.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}

func TestRequestsNeedToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, path := range []string{"/api/notifications", "/ws/notifications?userId=u1"} {
		resp, err := http.Get(s.http.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestChannelRequiresUserID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, s.http.URL+"/ws/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmitPushesFrames(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	conn := s.dialChannel(t, DefaultUserID)
	other := s.dialChannel(t, "someone-else")

	code, resp := s.emit(t, `{"type":"notification","id":"n1","notificationType":"payment","title":"Payment received","message":"$45","priority":"high"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 1, resp.Delivered)

	frame := readFrame(t, conn)
	assert.Equal(t, realtime.FrameNotification, frame.Type)
	require.NotNil(t, frame.Notification)
	assert.Equal(t, "n1", frame.Notification.ID)
	assert.Equal(t, notification.PriorityHigh, frame.Notification.Priority)

	// REST mutations are pushed as well.
	c := s.client(t)
	require.NoError(t, c.MarkRead(context.Background(), "n1"))
	frame = readFrame(t, conn)
	assert.Equal(t, realtime.FrameNotificationRead, frame.Type)
	assert.Equal(t, "n1", frame.NotificationID)

	code, _ = s.emit(t, `{"type":"notification_deleted","notificationId":"n1"}`)
	require.Equal(t, http.StatusAccepted, code)
	frame = readFrame(t, conn)
	assert.Equal(t, realtime.FrameNotificationDeleted, frame.Type)

	prefs, err := json.Marshal(map[string]any{"type": "preferences_updated", "preferences": notification.DefaultPreferences()})
	require.NoError(t, err)
	code, _ = s.emit(t, string(prefs))
	require.Equal(t, http.StatusAccepted, code)
	frame = readFrame(t, conn)
	assert.Equal(t, realtime.FramePreferencesUpdated, frame.Type)
	assert.Equal(t, notification.DefaultPreferences(), frame.Preferences)

	// Frames are scoped to the user.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestEmitValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `nope`, http.StatusBadRequest},
		{"unknown type", `{"type":"bogus"}`, http.StatusBadRequest},
		{"read without id", `{"type":"notification_read"}`, http.StatusBadRequest},
		{"read unknown id", `{"type":"notification_read","notificationId":"ghost"}`, http.StatusNotFound},
		{"incomplete preferences", `{"type":"preferences_updated","preferences":{"email":{"enabled":true}}}`, http.StatusUnprocessableEntity},
		{"missing preferences", `{"type":"preferences_updated"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, _ := s.emit(t, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestListRejectsBadSince(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, s.http.URL+"/api/notifications?since=yesterday", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPutPreferencesRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, s.http.URL+"/api/notifications/preferences",
		bytes.NewBufferString(`{"preferences":{"push":{}}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()
	srv, err := New(Config{Repository: newTestRepository(t), Logger: logger.NewDiscardLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
