package server

import (
	"context"

	"shieldchat/internal/middleware"
	"shieldchat/internal/notifications"
	"shieldchat/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketChatHandler handles the chat event socket. Events flow
// server-to-client only; anything the client sends is treated as a
// presence keepalive.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	wsLog := observability.NewWSLogger("chat")

	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		claims, ok := conn.Locals("userClaims").(middleware.UserClaims)
		if !ok || claims.UserID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := claims.UserID

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			wsLog.LogError(ctx, userID, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		wsLog.LogConnect(ctx, userID)

		// First connection triggers the online callback, which rebuilds
		// channel presence and resubscribes the user with snapshots.
		s.connMgr.Register(ctx, userID)

		client.IncomingHandler = func(c *notifications.Client, _ []byte) {
			s.connMgr.Touch(ctx, c.UserID)
		}

		go client.WritePump()
		client.ReadPump() // blocks until the connection drops

		s.connMgr.Unregister(ctx, userID)
		wsLog.LogDisconnect(ctx, userID, "connection closed")
	})
}
