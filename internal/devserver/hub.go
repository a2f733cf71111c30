package devserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/readerline/notifyengine/internal/logger"
)

// Constants for WebSocket connections
const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client
	maxMessageSize = 512

	// Frames queued per client before it is dropped as too slow
	clientSendBuffer = 64
)

// client is one connected channel listener.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	closeOnce sync.Once
}

// hub fans frames out to every connection of a user.
type hub struct {
	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
	log     logger.Logger
}

func newHub(log logger.Logger) *hub {
	return &hub{
		clients: make(map[string]map[*client]struct{}),
		log:     log,
	}
}

// register starts the pumps for conn. It closes conn when the hub is closed.
func (h *hub) register(conn *websocket.Conn, userID string) {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		userID: userID,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.log.Debug("channel client connected",
		logger.String("user_id", userID),
		logger.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	go h.readPump(c)
}

// unregisterLocked removes c and closes its send queue once.
func (h *hub) unregisterLocked(c *client) {
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	c.closeOnce.Do(func() { close(c.send) })
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	h.unregisterLocked(c)
	h.mu.Unlock()
}

// broadcast queues frame for every connection of userID and returns how many
// accepted it. A client with a full queue is disconnected.
func (h *hub) broadcast(userID string, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.log.Warn("dropping slow channel client", logger.String("user_id", userID))
			h.unregisterLocked(c)
		}
	}
	return delivered
}

// connections returns the number of open connections for userID.
func (h *hub) connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// close disconnects every client with a going-away close frame and waits
// for the pumps to exit.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.unregisterLocked(c)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// writePump pumps frames from the hub to the WebSocket connection, one
// frame per message.
func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("channel write failed", logger.String("user_id", c.userID), logger.Error(err))
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump drains the connection so control frames are handled. Clients
// send nothing else on this channel.
func (h *hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		h.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("channel read failed", logger.String("user_id", c.userID), logger.Error(err))
			}
			return
		}
	}
}
