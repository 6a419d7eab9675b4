package server

import (
	"context"
	"encoding/json"
	"log"

	"relay/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// incomingFrame is the small command vocabulary clients may push over the
// socket. Everything else flows through the HTTP API; the socket exists for
// event delivery.
type incomingFrame struct {
	Type              string `json:"type"`
	ConversationID    uint   `json:"conversation_id,omitempty"`
	LastReadMessageID *uint  `json:"last_read_message_id,omitempty"`
}

// WebsocketHandler upgrades the connection and binds it to the acting user's
// event stream.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		// Set by WebSocketAuthRequired before the upgrade.
		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		if s.hub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket: failed to register user %d: %v", userID, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			var frame incomingFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("WebSocket: invalid frame from user %d", userID)
				return
			}

			switch frame.Type {
			case "mark_read":
				// Socket-side read cursor advance; errors are dropped, the
				// HTTP endpoint reports them when the client needs to know.
				if frame.ConversationID == 0 {
					return
				}
				if _, err := s.msgService.MarkAsRead(ctx, frame.ConversationID, userID, frame.LastReadMessageID); err != nil {
					log.Printf("WebSocket: mark_read for user %d in conversation %d: %v",
						userID, frame.ConversationID, err)
				}
			default:
				// Unknown frames are ignored; the socket is delivery-first.
			}
		}

		// Confirm the binding so clients know the stream is live.
		if welcome, err := notifications.NewEvent("connected", fiber.Map{"user_id": userID}).Encode(); err == nil {
			client.TrySend([]byte(welcome))
		}

		go client.WritePump()

		// Read pump runs in the handler goroutine; it unregisters the client
		// from the hub when the connection drops.
		client.ReadPump()
	})
}
