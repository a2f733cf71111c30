// Package backend is the HTTP collaborator that owns persisted notifications
// and preferences. The engine loads from it at startup, catches up after a
// reconnect and mirrors read and delete actions to it.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/httpclient"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

// Operation names reported to the Observer and attached to errors.
const (
	OpList           = "list"
	OpListSince      = "list_since"
	OpGetPreferences = "get_preferences"
	OpPutPreferences = "put_preferences"
	OpMarkRead       = "mark_read"
	OpMarkAllRead    = "mark_all_read"
	OpDelete         = "delete"
	OpDeleteAll      = "delete_all"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Observer receives per-call outcomes and breaker transitions.
type Observer interface {
	BreakerObserver
	BackendCall(operation, status string, duration time.Duration)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1.
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token   string
	HTTP    *httpclient.Config
	Breaker CircuitBreakerConfig
	Logger  logger.Logger
	// Observer is optional.
	Observer Observer
}

// Client talks to the notification REST API. It is safe for concurrent use.
type Client struct {
	http     *httpclient.Client
	baseURL  *url.URL
	header   http.Header
	breaker  *CircuitBreaker
	log      logger.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid backend base url %q", logger.RedactURL(cfg.BaseURL)).
			Component("backend").
			Category(errors.CategoryConfiguration).
			Build()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("backend")
	}
	breakerCfg := cfg.Breaker
	if breakerCfg == (CircuitBreakerConfig{}) {
		breakerCfg = DefaultCircuitBreakerConfig()
	}

	header := http.Header{"Accept": {"application/json"}}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	var breakerObserver BreakerObserver
	if cfg.Observer != nil {
		breakerObserver = cfg.Observer
	}

	return &Client{
		http:     httpclient.New(cfg.HTTP),
		baseURL:  base,
		header:   header,
		breaker:  NewCircuitBreaker("backend", breakerCfg, log, breakerObserver),
		log:      log,
		observer: cfg.Observer,
		now:      time.Now,
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.Close()
}

// Breaker exposes the circuit breaker guarding all calls.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

type notificationsEnvelope struct {
	Notifications []json.RawMessage `json:"notifications"`
}

type preferencesEnvelope struct {
	Preferences json.RawMessage `json:"preferences"`
}

type preferencesBody struct {
	Preferences *notification.Preferences `json:"preferences"`
}

// ListNotifications fetches the full notification list for the initial load.
func (c *Client) ListNotifications(ctx context.Context) ([]*notification.Notification, error) {
	return c.list(ctx, OpList, c.endpoint(nil, "notifications"))
}

// ListNotificationsSince fetches notifications created at or after since,
// used to catch up on events missed while disconnected.
func (c *Client) ListNotificationsSince(ctx context.Context, since time.Time) ([]*notification.Notification, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	return c.list(ctx, OpListSince, c.endpoint(query, "notifications"))
}

func (c *Client) list(ctx context.Context, op, endpoint string) ([]*notification.Notification, error) {
	var env notificationsEnvelope
	if err := c.call(ctx, op, http.MethodGet, endpoint, nil, &env); err != nil {
		return nil, err
	}

	receivedAt := c.now()
	list := make([]*notification.Notification, 0, len(env.Notifications))
	for i, raw := range env.Notifications {
		n, _, err := notification.DecodeNotification(raw, receivedAt)
		if err != nil {
			c.log.Warn("skipping malformed notification in list response",
				logger.String("operation", op),
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

// GetPreferences fetches the user's preference set. Incomplete payloads are
// rejected with notification.ErrInvalidPreferences.
func (c *Client) GetPreferences(ctx context.Context) (*notification.Preferences, error) {
	var env preferencesEnvelope
	if err := c.call(ctx, OpGetPreferences, http.MethodGet, c.endpoint(nil, "notifications", "preferences"), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Preferences) == 0 {
		return nil, errors.Join(notification.ErrInvalidPreferences, errors.NewStd("response has no preferences"))
	}
	return notification.DecodePreferences(env.Preferences)
}

// PutPreferences replaces the stored preference set.
func (c *Client) PutPreferences(ctx context.Context, prefs *notification.Preferences) error {
	if prefs == nil {
		return errors.ValidationError("preferences must not be nil")
	}
	return c.call(ctx, OpPutPreferences, http.MethodPut,
		c.endpoint(nil, "notifications", "preferences"), preferencesBody{Preferences: prefs}, nil)
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return errors.ValidationError("notification id must not be empty")
	}
	return c.call(ctx, OpMarkRead, http.MethodPost,
		c.endpoint(nil, "notifications", url.PathEscape(id), "read"), nil, nil)
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.call(ctx, OpMarkAllRead, http.MethodPost, c.endpoint(nil, "notifications", "read-all"), nil, nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.ValidationError("notification id must not be empty")
	}
	return c.call(ctx, OpDelete, http.MethodDelete,
		c.endpoint(nil, "notifications", url.PathEscape(id)), nil, nil)
}

// DeleteAll removes every notification.
func (c *Client) DeleteAll(ctx context.Context) error {
	return c.call(ctx, OpDeleteAll, http.MethodDelete, c.endpoint(nil, "notifications"), nil, nil)
}

// endpoint joins already escaped path segments onto the base URL
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.baseURL.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call runs one request through the circuit breaker and decodes a JSON
// response into out when out is non-nil.
func (c *Client) call(ctx context.Context, op, method, endpoint string, body, out any) error {
	start := time.Now()

	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.http.Send(ctx, method, endpoint, c.header, body)
		if err != nil {
			return transportError(op, endpoint, err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(op, endpoint, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return errors.New(err).
				Component("backend").
				Category(errors.CategoryHTTP).
				Context("operation", op).
				Context("reason", "decode_response").
				Build()
		}
		return nil
	})

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = errorStatus(err)
		c.log.Debug("backend call failed",
			logger.String("operation", op),
			logger.String("method", method),
			logger.String("url", logger.RedactURL(endpoint)),
			logger.Duration("duration", duration),
			logger.Error(err))
	} else {
		c.log.Trace("backend call",
			logger.String("operation", op),
			logger.String("method", method),
			logger.Duration("duration", duration))
	}
	if c.observer != nil {
		c.observer.BackendCall(op, status, duration)
	}
	return err
}

func transportError(op, endpoint string, err error) error {
	category := errors.CategoryNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("backend").
		Category(category).
		Context("operation", op).
		Context("url", logger.RedactURL(endpoint)).
		Build()
}

// StatusError carries the HTTP status of a rejected backend call.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s failed: HTTP %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("backend %s failed: HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

func statusError(op, endpoint string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	category := errors.CategoryHTTP
	switch {
	case resp.StatusCode == http.StatusNotFound:
		category = errors.CategoryNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		category = errors.CategoryValidation
	case resp.StatusCode == http.StatusConflict:
		category = errors.CategoryConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		category = errors.CategoryLimit
	}

	return errors.New(&StatusError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Body:       logger.RedactSensitiveData(string(snippet)),
	}).
		Component("backend").
		Category(category).
		Context("operation", op).
		Context("status_code", resp.StatusCode).
		Context("url", logger.RedactURL(endpoint)).
		Build()
}

// errorStatus labels a failed call for metrics
func errorStatus(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.StatusCode)
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		return "rejected"
	case errors.IsCategory(err, errors.CategoryTimeout):
		return "timeout"
	default:
		return "error"
	}
}
