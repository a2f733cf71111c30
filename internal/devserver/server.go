package devserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/notification"
)

const (
	// DefaultUserID serves REST calls that do not name a user.
	DefaultUserID = "reader-1"

	// userHeader selects the user for REST calls.
	userHeader = "X-User-ID"

	shutdownTimeout = 5 * time.Second
	maxBodySize     = "1M"
)

// Frame types pushed on the channel.
const (
	frameNotification        = "notification"
	frameNotificationRead    = "notification_read"
	frameNotificationDeleted = "notification_deleted"
	framePreferencesUpdated  = "preferences_updated"
)

// Config configures a Server.
type Config struct {
	Repository *Repository
	// Token, when set, must be presented as a bearer token on every request.
	Token string
	// DefaultUserID is used by REST calls without an X-User-ID header.
	DefaultUserID string
	Logger        logger.Logger
	// Now is the creation time source for emitted notifications.
	Now func() time.Time
}

// Server serves the notification REST API, the WebSocket channel and the
// /dev/emit hook.
type Server struct {
	echo     *echo.Echo
	repo     *Repository
	hub      *hub
	cfg      Config
	log      logger.Logger
	upgrader websocket.Upgrader
}

// New builds a Server around repo.
func New(cfg Config) (*Server, error) {
	if cfg.Repository == nil {
		return nil, errors.Newf("devserver requires a repository").
			Component("devserver").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = DefaultUserID
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().Module("devserver")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		echo: echo.New(),
		repo: cfg.Repository,
		hub:  newHub(cfg.Logger),
		cfg:  cfg,
		log:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local development tool; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				logger.String("method", v.Method),
				logger.String("uri", logger.RedactURL(v.URI)),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/ws/notifications", s.handleChannel, s.requireToken)

	api := e.Group("/api", s.requireToken, middleware.BodyLimit(maxBodySize))
	api.GET("/notifications", s.listNotifications)
	api.DELETE("/notifications", s.deleteAll)
	api.GET("/notifications/preferences", s.getPreferences)
	api.PUT("/notifications/preferences", s.putPreferences)
	api.POST("/notifications/read-all", s.markAllRead)
	api.POST("/notifications/:id/read", s.markRead)
	api.DELETE("/notifications/:id", s.deleteNotification)

	e.POST("/dev/emit", s.emit, s.requireToken, middleware.BodyLimit(maxBodySize))
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	s.log.Info("dev server listening", logger.String("address", addr))

	select {
	case err := <-errCh:
		s.hub.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("devserver").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.close()
	err := s.echo.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// Close disconnects channel clients. Use it when serving through Handler.
func (s *Server) Close() {
	s.hub.close()
}

// Connections returns the number of open channel connections for userID.
func (s *Server) Connections(userID string) int {
	return s.hub.connections(userID)
}

// requireToken enforces the configured bearer token.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Token == "" {
			return next(c)
		}
		token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
		}
		return next(c)
	}
}

func (s *Server) userID(c echo.Context) string {
	if id := strings.TrimSpace(c.Request().Header.Get(userHeader)); id != "" {
		return id
	}
	return s.cfg.DefaultUserID
}

func (s *Server) handleChannel(c echo.Context) error {
	userID := strings.TrimSpace(c.QueryParam("userId"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("channel upgrade failed", logger.Error(err))
		return nil
	}
	s.hub.register(conn, userID)
	return nil
}

type notificationsResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
}

type preferencesPayload struct {
	Preferences json.RawMessage `json:"preferences"`
}

func (s *Server) listNotifications(c echo.Context) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = parsed
	}

	list, err := s.repo.List(c.Request().Context(), s.userID(c), since)
	if err != nil {
		return s.internalError("list notifications", err)
	}
	return c.JSON(http.StatusOK, notificationsResponse{Notifications: list})
}

func (s *Server) getPreferences(c echo.Context) error {
	prefs, err := s.repo.Preferences(c.Request().Context(), s.userID(c))
	if err != nil {
		return s.internalError("load preferences", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) putPreferences(c echo.Context) error {
	var body preferencesPayload
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be JSON")
	}
	if _, err := s.applyPreferences(c.Request().Context(), s.userID(c), body.Preferences); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) markRead(c echo.Context) error {
	found, err := s.applyRead(c.Request().Context(), s.userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) markAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.userID(c)

	list, err := s.repo.List(ctx, userID, time.Time{})
	if err != nil {
		return s.internalError("list notifications", err)
	}
	if _, err := s.repo.MarkAllRead(ctx, userID); err != nil {
		return s.internalError("mark all read", err)
	}
	for _, n := range list {
		if !n.Read {
			s.push(userID, idFrame(frameNotificationRead, n.ID))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteNotification(c echo.Context) error {
	found, err := s.applyDelete(c.Request().Context(), s.userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteAll(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.userID(c)

	list, err := s.repo.List(ctx, userID, time.Time{})
	if err != nil {
		return s.internalError("list notifications", err)
	}
	if _, err := s.repo.DeleteAll(ctx, userID); err != nil {
		return s.internalError("delete all", err)
	}
	for _, n := range list {
		s.push(userID, idFrame(frameNotificationDeleted, n.ID))
	}
	return c.NoContent(http.StatusNoContent)
}

// emitRequest is a channel frame plus an optional target user.
type emitRequest struct {
	Type           string          `json:"type"`
	UserID         string          `json:"userId"`
	NotificationID string          `json:"notificationId"`
	Preferences    json.RawMessage `json:"preferences"`
}

type emitResponse struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Delivered int    `json:"delivered"`
}

// emit persists and pushes one frame. Notification frames without an id or
// createdAt get them assigned.
func (s *Server) emit(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	var req emitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON frame")
	}

	ctx := c.Request().Context()
	userID := req.UserID
	if userID == "" {
		userID = s.cfg.DefaultUserID
	}
	resp := emitResponse{Type: req.Type}

	switch req.Type {
	case frameNotification:
		n, err := s.createNotification(ctx, userID, body)
		if err != nil {
			return err
		}
		resp.ID = n.ID
		resp.Delivered = s.push(userID, notificationFrame(n))

	case frameNotificationRead, frameNotificationDeleted:
		if req.NotificationID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "notificationId is required")
		}
		apply := s.applyRead
		if req.Type == frameNotificationDeleted {
			apply = s.applyDelete
		}
		found, err := apply(ctx, userID, req.NotificationID)
		if err != nil {
			return err
		}
		if !found {
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		}
		resp.ID = req.NotificationID
		resp.Delivered = s.hub.connections(userID)

	case framePreferencesUpdated:
		delivered, err := s.applyPreferences(ctx, userID, req.Preferences)
		if err != nil {
			return err
		}
		resp.Delivered = delivered

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown frame type "+strings.TrimSpace(req.Type))
	}

	s.log.Info("frame emitted",
		logger.String("type", req.Type),
		logger.String("user_id", userID),
		logger.Int("delivered", resp.Delivered))
	return c.JSON(http.StatusAccepted, resp)
}

func (s *Server) createNotification(ctx context.Context, userID string, body []byte) (*notification.Notification, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}
	if id, _ := fields["id"].(string); id == "" {
		fields["id"] = uuid.NewString()
	}
	patched, err := json.Marshal(fields)
	if err != nil {
		return nil, s.internalError("encode notification", err)
	}

	n, _, err := notification.DecodeNotification(patched, s.cfg.Now().UTC())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.repo.Save(ctx, userID, n); err != nil {
		return nil, s.internalError("save notification", err)
	}
	return n, nil
}

func (s *Server) applyRead(ctx context.Context, userID, id string) (bool, error) {
	found, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return false, s.internalError("mark read", err)
	}
	if found {
		s.push(userID, idFrame(frameNotificationRead, id))
	}
	return found, nil
}

func (s *Server) applyDelete(ctx context.Context, userID, id string) (bool, error) {
	found, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return false, s.internalError("delete notification", err)
	}
	if found {
		s.push(userID, idFrame(frameNotificationDeleted, id))
	}
	return found, nil
}

// applyPreferences validates, stores and pushes a complete preference set.
func (s *Server) applyPreferences(ctx context.Context, userID string, raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "preferences are required")
	}
	prefs, err := notification.DecodePreferences(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := s.repo.SavePreferences(ctx, userID, prefs); err != nil {
		return 0, s.internalError("save preferences", err)
	}
	frame, err := json.Marshal(map[string]any{"type": framePreferencesUpdated, "preferences": prefs})
	if err != nil {
		return 0, s.internalError("encode preferences", err)
	}
	return s.push(userID, frame), nil
}

func (s *Server) push(userID string, frame []byte) int {
	if frame == nil {
		return 0
	}
	return s.hub.broadcast(userID, frame)
}

func (s *Server) internalError(action string, err error) error {
	s.log.Error("request failed", logger.String("action", action), logger.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to "+action)
}

func idFrame(frameType, id string) []byte {
	frame, _ := json.Marshal(map[string]string{"type": frameType, "notificationId": id})
	return frame
}

// notificationFrame renders n in the wire shape with the frame type added.
func notificationFrame(n *notification.Notification) []byte {
	data, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	fields["type"] = frameNotification
	frame, _ := json.Marshal(fields)
	return frame
}
