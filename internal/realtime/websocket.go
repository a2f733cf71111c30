package realtime

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
)

// WebSocket defaults.
const (
	DefaultReadLimit        = 64 << 10
	DefaultPongWait         = 60 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	writeWait = 10 * time.Second
)

// WebSocketConfig configures a WebSocketDialer.
type WebSocketConfig struct {
	// URL is the channel endpoint; the user id is added as ?userId=.
	URL string
	// Token is sent as a bearer token during the handshake.
	Token            string
	ReadLimit        int64
	PongWait         time.Duration
	HandshakeTimeout time.Duration
	Logger           logger.Logger
}

// WebSocketDialer dials the notification channel over gorilla/websocket and
// keeps it alive with pings.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    logger.Logger
}

// NewWebSocketDialer validates the endpoint and applies defaults.
func NewWebSocketDialer(cfg WebSocketConfig) (*WebSocketDialer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.Newf("invalid channel url %q: expected ws:// or wss://", logger.RedactURL(cfg.URL)).
			Component("realtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("realtime")
	}

	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: cfg.Logger,
	}, nil
}

// Dial opens the channel for userID.
func (d *WebSocketDialer) Dial(ctx context.Context, userID string) (Conn, error) {
	u, _ := url.Parse(d.cfg.URL)
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := errors.New(err).
			Component("realtime").
			Category(errors.CategoryWebSocket).
			Context("operation", "dial").
			Context("url", logger.RedactURL(u.String()))
		if resp != nil {
			b = b.Context("status_code", resp.StatusCode)
		}
		return nil, b.Build()
	}

	ws.SetReadLimit(d.cfg.ReadLimit)
	pongWait := d.cfg.PongWait
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &wsConn{ws: ws, done: make(chan struct{})}
	c.pingerDone.Add(1)
	go c.pinger(pongWait*9/10, d.log)
	return c, nil
}

type wsConn struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
	pingerDone sync.WaitGroup
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) pinger(period time.Duration, log logger.Logger) {
	defer c.pingerDone.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				log.Debug("ping failed", logger.Error(err))
				return
			}
		}
	}
}

// Close sends a normal close frame, best effort, and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.pingerDone.Wait()
	})
	return err
}
