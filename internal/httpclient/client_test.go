package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prefsURL = "https://api.test/v1/notifications/preferences"

func mockedClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	cfg.Transport = mock
	c := New(&cfg)
	t.Cleanup(c.Close)
	return c, mock
}

// hang blocks until the request context ends.
func hang(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	c := New(nil)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)

	c = New(&Config{DefaultTimeout: 3 * time.Second, UserAgent: "notifyengine/1.2.0"})
	assert.Equal(t, 3*time.Second, c.timeout)
	assert.Equal(t, "notifyengine/1.2.0", c.userAgent)
}

func TestSendEncodesJSONBody(t *testing.T) {
	t.Parallel()

	c, mock := mockedClient(t, Config{})
	mock.RegisterResponder(http.MethodPut, prefsURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer t0k", req.Header.Get("Authorization"))
		assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))

		var got map[string]bool
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		assert.Equal(t, map[string]bool{"enabled": true}, got)
		return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
	})

	header := http.Header{"Authorization": {"Bearer t0k"}}
	resp, err := c.Send(t.Context(), http.MethodPut, prefsURL, header, map[string]bool{"enabled": true})
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, header, 1, "caller header is not modified")
}

func TestSendBodyKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     any
		wantBody string
		wantJSON bool
	}{
		{"no body", nil, "", false},
		{"raw bytes", []byte("plain"), "plain", false},
		{"struct", struct {
			ID string `json:"id"`
		}{"n1"}, `{"id":"n1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mock := mockedClient(t, Config{})
			mock.RegisterResponder(http.MethodPost, prefsURL, func(req *http.Request) (*http.Response, error) {
				data, err := io.ReadAll(req.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(data))
				assert.Equal(t, tt.wantJSON, req.Header.Get("Content-Type") == "application/json")
				return httpmock.NewStringResponse(http.StatusOK, "{}"), nil
			})

			resp, err := c.Send(t.Context(), http.MethodPost, prefsURL, nil, tt.body)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())
		})
	}
}

func TestSendRejectsUnencodableBody(t *testing.T) {
	t.Parallel()

	c, mock := mockedClient(t, Config{})
	_, err := c.Send(t.Context(), http.MethodPut, prefsURL, nil, math.Inf(1))
	require.Error(t, err)
	assert.Zero(t, mock.GetTotalCallCount(), "nothing is sent")
}

func TestSendAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	c, mock := mockedClient(t, Config{DefaultTimeout: 20 * time.Millisecond})
	mock.RegisterResponder(http.MethodGet, prefsURL, hang)

	start := time.Now()
	_, err := c.Send(context.Background(), http.MethodGet, prefsURL, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSendKeepsCallerDeadline(t *testing.T) {
	t.Parallel()

	c, mock := mockedClient(t, Config{DefaultTimeout: time.Hour})
	mock.RegisterResponder(http.MethodGet, prefsURL, hang)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, http.MethodGet, prefsURL, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendCancelled(t *testing.T) {
	t.Parallel()

	c, mock := mockedClient(t, Config{})
	mock.RegisterResponder(http.MethodDelete, prefsURL, hang)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := c.Send(ctx, http.MethodDelete, prefsURL, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBodyReadableAfterSendReturns(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"notifications":[]}`)
	}))
	t.Cleanup(server.Close)

	c := New(&Config{DefaultTimeout: 5 * time.Second})
	t.Cleanup(c.Close)

	resp, err := c.Send(t.Context(), http.MethodGet, server.URL, nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"notifications":[]}`, string(data))
}
