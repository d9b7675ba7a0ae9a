package websocket

import (
	"time"

	"github.com/bookhooks/bookhooks-backend/models"
	"github.com/google/uuid"
)

// Client → server frame types.
const (
	EventAuth        = "auth"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventReadReceipt = "read_receipt"
)

// Server → client frame types. Typing relays reuse the inbound names.
const (
	EventAuthOK         = "auth_ok"
	EventReceiveMessage = "receive_message"
	EventMessageRead    = "message_read"
	EventError          = "error"
)

// ClientFrame is the single inbound envelope; Type selects which of the
// remaining fields are meaningful.
type ClientFrame struct {
	Type           string `json:"type"`
	Token          string `json:"token,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// Event is the outbound envelope fanned out by the hub.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

type TypingPayload struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

type LastMessagePayload struct {
	Text     string    `json:"text"`
	SenderID uuid.UUID `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
	IsRead   bool      `json:"is_read"`
}

type ReceiveMessagePayload struct {
	Message     *models.Message     `json:"message"`
	LastMessage *LastMessagePayload `json:"last_message,omitempty"`
	UnreadCount map[string]int      `json:"unread_count"`
}

type MessageReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	IsRead    bool      `json:"is_read"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
