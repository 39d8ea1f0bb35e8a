package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/dto"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSHandler streams reservation notifications to WebSocket clients
type WSHandler struct {
	hub          *notify.Hub
	queueService service.QueueService
	idleTimeout  time.Duration
	log          *logger.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler. idleTimeout closes connections
// that received no notification for that long; zero disables the limit.
func NewWSHandler(hub *notify.Hub, queueService service.QueueService, idleTimeout time.Duration) *WSHandler {
	return &WSHandler{
		hub:          hub,
		queueService: queueService,
		idleTimeout:  idleTimeout,
		log:          logger.Get(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect cross-origin from the booking frontend
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WatchRequest handles GET /v2/ws/reservation/:id and streams one request's
// status updates until a terminal state arrives
func (h *WSHandler) WatchRequest(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "request id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	// Snapshot before subscribing so a request that resolved moments ago
	// still gets its terminal frame
	snapshot, err := h.queueService.Status(c.Request.Context(), requestID)
	if err != nil {
		handleError(c, err)
		return
	}
	if snapshot.UserID != userID {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "request belongs to a different user",
			Code:  "FORBIDDEN",
		})
		return
	}

	sub := h.hub.SubscribeRequest(requestID)
	h.serve(c, sub, notify.ForState(snapshot))
}

// WatchUser handles GET /v2/ws/user/:user_id and streams every notification
// for the authenticated user
func (h *WSHandler) WatchUser(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if pathUser := c.Param("user_id"); pathUser != "" && pathUser != userID {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "cannot watch another user's notifications",
			Code:  "FORBIDDEN",
		})
		return
	}

	sub := h.hub.SubscribeUser(userID)
	h.serve(c, sub, nil)
}

// serve upgrades the connection and pumps notifications until the
// subscription closes, the client leaves, or the idle timeout fires
func (h *WSHandler) serve(c *gin.Context, sub *notify.Subscription, first *notify.Notification) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, done)

	defer func() {
		sub.Close()
		conn.Close()
	}()

	if first != nil {
		if err := h.write(conn, first); err != nil {
			return
		}
		if first.Terminal() {
			h.closeNormal(conn)
			return
		}
	}

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	var idleTimer *time.Timer
	var idle <-chan time.Time
	if h.idleTimeout > 0 {
		idleTimer = time.NewTimer(h.idleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case <-done:
			return
		case <-idle:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "idle timeout"))
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case n, ok := <-sub.C:
			if !ok {
				reason := "shutting down"
				if sub.Reason() == notify.CloseSlowConsumer {
					reason = "client too slow"
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason))
				return
			}
			if err := h.write(conn, n); err != nil {
				return
			}
			// The connection is only idle between notifications
			if idleTimer != nil {
				idleTimer.Reset(h.idleTimeout)
			}
			if n.Terminal() && sub.Reason() == "" && first != nil {
				// Request watchers are done once the request resolves
				h.closeNormal(conn)
				return
			}
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, n *notify.Notification) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(n)
}

func (h *WSHandler) closeNormal(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump drains client frames so pongs and close messages are processed
func (h *WSHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
