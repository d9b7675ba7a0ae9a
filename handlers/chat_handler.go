package handlers

import (
	"errors"
	"log"

	"github.com/bookhooks/bookhooks-backend/models"
	"github.com/bookhooks/bookhooks-backend/services"
	ws "github.com/bookhooks/bookhooks-backend/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type CreateChatRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// CreateOrGetChat lazily creates the conversation between the caller and
// the recipient; repeated calls for the same pair return the same row.
func CreateOrGetChat(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req CreateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	recipientID, _ := uuid.Parse(req.RecipientID)

	conversation, created, err := services.GetOrCreateConversation(userID, recipientID)
	if err != nil {
		return respondChatError(c, err)
	}
	if created {
		return c.Status(fiber.StatusCreated).JSON(conversation)
	}
	return c.JSON(conversation)
}

// GetUserChats lists the caller's conversations with last message,
// display-resolved participants, and the caller's unread counter.
func GetUserChats(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	summaries, err := services.ListConversationsForUser(userID)
	if err != nil {
		return respondChatError(c, err)
	}
	return c.JSON(summaries)
}

// GetChat returns the full conversation history; this fetch is the
// authoritative state a reconnecting client replaces its local log with.
func GetChat(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	chatID, err := uuid.Parse(c.Params("chatId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}

	conversation, err := services.GetConversation(chatID, userID)
	if err != nil {
		return respondChatError(c, err)
	}
	return c.JSON(conversation)
}

// SendMessage persists a message and fans it out to every connection
// joined to the conversation's room. Persistence does not require the
// sender to have joined; offline participants catch up via GetChat.
func SendMessage(hub *ws.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := currentUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		chatID, err := uuid.Parse(c.Params("chatId"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
		}

		var req SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		message, conversation, err := services.AppendMessage(chatID, userID, req.Text)
		if err != nil {
			return respondChatError(c, err)
		}

		hub.Publish(chatID.String(), ws.Event{
			Type:           ws.EventReceiveMessage,
			ConversationID: chatID.String(),
			Payload: ws.ReceiveMessagePayload{
				Message:     message,
				LastMessage: lastMessagePayload(conversation),
				UnreadCount: services.UnreadCounts(conversation),
			},
		})

		return c.Status(fiber.StatusCreated).JSON(message)
	}
}

// DeleteChatMessage removes a message its author no longer wants; only the
// sender may delete.
func DeleteChatMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	chatID, err := uuid.Parse(c.Params("chatId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}
	messageID, err := uuid.Parse(c.Params("messageId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}

	if err := services.DeleteMessage(chatID, messageID, userID); err != nil {
		return respondChatError(c, err)
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

// respondChatError maps the store's error kinds onto status codes with a
// machine-stable error string in the body.
func respondChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}
	log.Printf("🔥 Chat store error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_error"})
}

func lastMessagePayload(conversation *models.Conversation) *ws.LastMessagePayload {
	last := services.LastMessageOf(conversation)
	if last == nil {
		return nil
	}
	return &ws.LastMessagePayload{
		Text:     last.Text,
		SenderID: last.SenderID,
		SentAt:   last.SentAt,
		IsRead:   last.IsRead,
	}
}
