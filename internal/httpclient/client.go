// Package httpclient is the HTTP transport behind the backend REST client:
// pooled connections, a per-request timeout when the caller sets no
// deadline, a fixed User-Agent and JSON request bodies.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a request whose context has no deadline.
	DefaultTimeout = 15 * time.Second

	defaultUserAgent        = "notifyengine"
	defaultIdleConnsPerHost = 4
)

// Config tunes a Client. Zero fields take their defaults.
type Config struct {
	DefaultTimeout      time.Duration
	UserAgent           string
	MaxIdleConnsPerHost int
	// Transport replaces the pooled transport, for example with an
	// httpmock.MockTransport.
	Transport http.RoundTripper
}

// Client sends requests to the notification service. It is safe for
// concurrent use.
type Client struct {
	hc        *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates a Client. A nil cfg uses the defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultIdleConnsPerHost
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		}
	}

	// the timeout lives on the request context, not on http.Client
	return &Client{
		hc:        &http.Client{Transport: c.Transport},
		timeout:   c.DefaultTimeout,
		userAgent: c.UserAgent,
	}
}

// Send performs method on url. A nil body sends no body, []byte is sent as
// is and any other value is encoded as JSON. header is copied onto the
// request. On success the caller must close the response body.
func (c *Client) Send(ctx context.Context, method, url string, header http.Header, body any) (*http.Response, error) {
	payload, contentType, err := encode(body)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// the body is read after Send returns, so the timeout ends with it
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: cancel}
	return resp, nil
}

func encode(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return http.NoBody, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

type releaseOnClose struct {
	io.ReadCloser
	release context.CancelFunc
}

func (r *releaseOnClose) Close() error {
	defer r.release()
	return r.ReadCloser.Close()
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}
