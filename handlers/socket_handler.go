package handlers

import (
	"errors"
	"log"

	"github.com/bookhooks/bookhooks-backend/database"
	"github.com/bookhooks/bookhooks-backend/models"
	"github.com/bookhooks/bookhooks-backend/services"
	ws "github.com/bookhooks/bookhooks-backend/websocket"
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// ServeWs runs the per-connection session protocol: an auth handshake binds
// the socket to a user, then a read loop dispatches join/typing/read-receipt
// frames until the connection drops. Join state is connection-scoped and is
// never restored by the server; clients re-join after every reconnect.
func ServeWs(hub *ws.Hub) func(*websocketcontrib.Conn) {
	return func(c *websocketcontrib.Conn) {
		client, ok := authenticate(c)
		if !ok {
			return
		}

		hub.Register(client)
		defer func() {
			hub.Unregister(client)
			c.Close()
		}()

		if err := c.WriteJSON(ws.Event{Type: ws.EventAuthOK}); err != nil {
			return
		}

		for {
			var frame ws.ClientFrame
			if err := c.ReadJSON(&frame); err != nil {
				if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseAbnormalClosure) {
					log.Printf("WebSocket closed for client %s: %v", client.UserID, err)
				} else {
					log.Printf("WebSocket read error for client %s: %v", client.UserID, err)
				}
				break
			}
			dispatch(hub, client, frame)
		}
	}
}

func authenticate(c *websocketcontrib.Conn) (*ws.Client, bool) {
	var frame ws.ClientFrame
	if err := c.ReadJSON(&frame); err != nil || frame.Type != ws.EventAuth {
		_ = c.WriteJSON(ws.Event{Type: ws.EventError, Payload: ws.ErrorPayload{Message: "Invalid or missing auth message"}})
		c.Close()
		return nil, false
	}

	claims, err := parseToken(frame.Token)
	if err != nil {
		log.Printf("WebSocket auth failed: invalid token, error: %v", err)
		_ = c.WriteJSON(ws.Event{Type: ws.EventError, Payload: ws.ErrorPayload{Message: "Invalid token"}})
		c.Close()
		return nil, false
	}

	raw, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		log.Printf("WebSocket auth failed: invalid user id %q", raw)
		_ = c.WriteJSON(ws.Event{Type: ws.EventError, Payload: ws.ErrorPayload{Message: "Invalid user ID"}})
		c.Close()
		return nil, false
	}

	// The display name relayed on typing events comes from the server-side
	// record, never from a client-claimed field.
	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		log.Printf("WebSocket auth failed: unknown user %s: %v", userID, err)
		_ = c.WriteJSON(ws.Event{Type: ws.EventError, Payload: ws.ErrorPayload{Message: "Unknown user"}})
		c.Close()
		return nil, false
	}

	return &ws.Client{UserID: userID, DisplayName: user.DisplayName, Conn: c}, true
}

func dispatch(hub *ws.Hub, client *ws.Client, frame ws.ClientFrame) {
	switch frame.Type {
	case ws.EventJoinChat:
		roomID, ok := authorizedRoom(hub, client, frame.ConversationID)
		if !ok {
			return
		}
		hub.Join(client, roomID.String())
	case ws.EventLeaveChat:
		roomID, err := uuid.Parse(frame.ConversationID)
		if err != nil {
			hub.SendError(client, "Invalid conversation ID")
			return
		}
		hub.Leave(client, roomID.String())
	case ws.EventTyping, ws.EventStopTyping:
		// Room keys are canonical uuid strings; parse so case or format
		// variants land in the same room the client joined.
		roomID, err := uuid.Parse(frame.ConversationID)
		if err != nil {
			hub.SendError(client, "Invalid conversation ID")
			return
		}
		if frame.Type == ws.EventTyping {
			hub.Typing(client, roomID.String())
		} else {
			hub.StopTyping(client, roomID.String())
		}
	case ws.EventReadReceipt:
		handleReadReceipt(hub, client, frame)
	default:
		hub.SendError(client, "Unknown event type")
	}
}

// authorizedRoom rejects joins (and receipts) for conversations the bound
// identity is not a participant of.
func authorizedRoom(hub *ws.Hub, client *ws.Client, conversationID string) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(conversationID)
	if err != nil {
		hub.SendError(client, "Invalid conversation ID")
		return uuid.Nil, false
	}
	member, err := services.IsParticipant(roomID, client.UserID)
	if err != nil {
		log.Printf("Participant check failed for client %s: %v", client.UserID, err)
		hub.SendError(client, "Failed to verify membership")
		return uuid.Nil, false
	}
	if !member {
		hub.SendError(client, "Not a participant of this conversation")
		return uuid.Nil, false
	}
	return roomID, true
}

// handleReadReceipt persists the read state, then republishes confirmation
// to the whole room; the sender needs it to flip its seen icon. A failure
// goes back to the origin connection only.
func handleReadReceipt(hub *ws.Hub, client *ws.Client, frame ws.ClientFrame) {
	roomID, ok := authorizedRoom(hub, client, frame.ConversationID)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(frame.MessageID)
	if err != nil {
		hub.SendError(client, "Invalid message ID")
		return
	}

	message, err := services.MarkMessageRead(roomID, messageID, client.UserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			hub.SendError(client, "Message not found")
		case errors.Is(err, services.ErrForbidden):
			hub.SendError(client, "Not a participant of this conversation")
		case errors.Is(err, services.ErrValidation):
			hub.SendError(client, "Cannot mark your own message read")
		default:
			log.Printf("Failed to mark message %s read: %v", messageID, err)
			hub.SendError(client, "Failed to mark message read")
		}
		return
	}

	hub.Publish(roomID.String(), ws.Event{
		Type:           ws.EventMessageRead,
		ConversationID: roomID.String(),
		Payload: ws.MessageReadPayload{
			MessageID: message.ID,
			UserID:    client.UserID,
			IsRead:    message.IsRead,
			UpdatedAt: message.UpdatedAt,
		},
	})
}
