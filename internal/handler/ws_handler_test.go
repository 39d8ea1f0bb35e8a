package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	"github.com/YeonwooSung/ticketing-system/pkg/middleware"
)

func dialUserSocket(t *testing.T, hub *notify.Hub, idleTimeout time.Duration) *websocket.Conn {
	t.Helper()

	h := NewWSHandler(hub, nil, idleTimeout)
	r := gin.New()
	r.GET("/v2/ws/user/:user_id", middleware.RequireUser(), h.WatchUser)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/ws/user/user-1"
	header := http.Header{}
	header.Set(middleware.UserIDHeader, "user-1")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWatchUser_DeliveryResetsIdleTimeout(t *testing.T) {
	hub := notify.NewHub(logger.Get())
	defer hub.Shutdown()

	conn := dialUserSocket(t, hub, 400*time.Millisecond)

	// Each delivery lands inside the idle window and must push the deadline
	// out; three rounds run well past the original 400ms.
	for i := 0; i < 3; i++ {
		time.Sleep(250 * time.Millisecond)
		hub.Publish(&notify.Notification{
			Type:      notify.TypeStatusUpdate,
			RequestID: "req-1",
			UserID:    "user-1",
		})

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var n notify.Notification
		require.NoError(t, conn.ReadJSON(&n), "connection closed as idle despite active deliveries")
		require.Equal(t, notify.TypeStatusUpdate, n.Type)
	}
}

func TestWatchUser_IdleConnectionClosed(t *testing.T) {
	hub := notify.NewHub(logger.Get())
	defer hub.Shutdown()

	conn := dialUserSocket(t, hub, 100*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
