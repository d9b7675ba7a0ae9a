package services

import (
	"errors"
	"strings"
	"time"

	"github.com/bookhooks/bookhooks-backend/database"
	"github.com/bookhooks/bookhooks-backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LastMessage is the denormalized newest-message summary exposed on
// conversation list views and real-time payloads.
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID uuid.UUID `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
	IsRead   bool      `json:"is_read"`
}

// ConversationSummary is one row of a user's conversation list, with the
// unread counter scoped to that user.
type ConversationSummary struct {
	ID           uuid.UUID                        `json:"id"`
	Participants []models.ConversationParticipant `json:"participants"`
	LastMessage  *LastMessage                     `json:"last_message,omitempty"`
	UnreadCount  int                              `json:"unread_count"`
	UpdatedAt    time.Time                        `json:"updated_at"`
}

// GetOrCreateConversation returns the conversation for the unordered pair
// {userA, userB}, creating it with zeroed unread counters on first contact.
// The bool reports whether a new conversation was created.
func GetOrCreateConversation(userA, userB uuid.UUID) (*models.Conversation, bool, error) {
	if userA == userB {
		return nil, false, ErrValidation
	}

	pairKey := models.PairKeyFor(userA, userB)

	var conversation models.Conversation
	err := database.DB.Preload("Participants.User").
		Where("pair_key = ?", pairKey).
		First(&conversation).Error
	if err == nil {
		return &conversation, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	var users []models.User
	if err := database.DB.Where("id IN ?", []uuid.UUID{userA, userB}).Find(&users).Error; err != nil {
		return nil, false, err
	}
	if len(users) != 2 {
		return nil, false, ErrNotFound
	}

	conversation = models.Conversation{
		PairKey: pairKey,
		Participants: []models.ConversationParticipant{
			{UserID: userA, UnreadCount: 0},
			{UserID: userB, UnreadCount: 0},
		},
	}
	if err := database.DB.Create(&conversation).Error; err != nil {
		// Concurrent first contact: lose the race on the pair-key unique
		// index and return the winner's row.
		var existing models.Conversation
		lookupErr := database.DB.Preload("Participants.User").
			Where("pair_key = ?", pairKey).
			First(&existing).Error
		if lookupErr != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	if err := database.DB.Preload("Participants.User").
		First(&conversation, "id = ?", conversation.ID).Error; err != nil {
		return nil, false, err
	}
	return &conversation, true, nil
}

// AppendMessage persists a message and maintains the last-message cache and
// the recipients' unread counters in the same transaction. Returns the
// persisted message plus the refreshed conversation for fan-out payloads.
func AppendMessage(conversationID, senderID uuid.UUID, text string) (*models.Message, *models.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, ErrValidation
	}

	var message models.Message
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		if err := tx.First(&conversation, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		member, err := isParticipant(tx, conversationID, senderID)
		if err != nil {
			return err
		}
		if !member {
			return ErrForbidden
		}

		message = models.Message{
			ConversationID: conversationID,
			SenderID:       senderID,
			Text:           text,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(&message).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_message_text":      message.Text,
				"last_message_sender_id": message.SenderID,
				"last_message_at":        message.CreatedAt,
				"last_message_read":      false,
			}).Error; err != nil {
			return err
		}

		// Atomic increment, no read-modify-write: two participants sending
		// at once must not lose either bump.
		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", conversationID, senderID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	})
	if err != nil {
		return nil, nil, err
	}

	var conversation models.Conversation
	if err := database.DB.Preload("Participants.User").
		First(&conversation, "id = ?", conversationID).Error; err != nil {
		return nil, nil, err
	}
	return &message, &conversation, nil
}

// MarkMessageRead flags a message (and every earlier unread message from the
// same side of the conversation) as read and zeroes the reader's unread
// counter. Reading an already-read message is a no-op, not an error.
func MarkMessageRead(conversationID, messageID, readerID uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		member, err := isParticipant(tx, conversationID, readerID)
		if err != nil {
			return err
		}

		if err := tx.First(&message, "id = ? AND conversation_id = ?", messageID, conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !member {
			return ErrForbidden
		}
		if message.SenderID == readerID {
			return ErrValidation
		}
		if message.IsRead {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ? AND created_at <= ?",
				conversationID, readerID, false, message.CreatedAt).
			Updates(map[string]interface{}{"is_read": true, "updated_at": now}).Error; err != nil {
			return err
		}
		message.IsRead = true
		message.UpdatedAt = now

		// Reader is caught up: the counter clears wholesale rather than
		// decrementing per message.
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, readerID).
			UpdateColumn("unread_count", 0).Error; err != nil {
			return err
		}

		return tx.Model(&models.Conversation{}).
			Where("id = ? AND last_message_sender_id <> ? AND last_message_at <= ?",
				conversationID, readerID, message.CreatedAt).
			UpdateColumn("last_message_read", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteMessage removes a message authored by requester and recomputes the
// conversation's last-message cache; if the deleted message was still
// unread, the recipient's counter is decremented so the ledger stays true.
func DeleteMessage(conversationID, messageID, requesterID uuid.UUID) error {
	return database.DB.Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		if err := tx.First(&conversation, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var message models.Message
		if err := tx.First(&message, "id = ? AND conversation_id = ?", messageID, conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if message.SenderID != requesterID {
			return ErrForbidden
		}

		if err := tx.Delete(&models.Message{}, "id = ?", messageID).Error; err != nil {
			return err
		}

		if !message.IsRead {
			if err := tx.Model(&models.ConversationParticipant{}).
				Where("conversation_id = ? AND user_id <> ? AND unread_count > 0",
					conversationID, message.SenderID).
				UpdateColumn("unread_count", gorm.Expr("unread_count - 1")).Error; err != nil {
				return err
			}
		}

		var newest models.Message
		err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at desc, id desc").
			First(&newest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Model(&models.Conversation{}).
				Where("id = ?", conversationID).
				Updates(map[string]interface{}{
					"last_message_text":      nil,
					"last_message_sender_id": nil,
					"last_message_at":        nil,
					"last_message_read":      false,
				}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_message_text":      newest.Text,
				"last_message_sender_id": newest.SenderID,
				"last_message_at":        newest.CreatedAt,
				"last_message_read":      newest.IsRead,
			}).Error
	})
}

// ListConversationsForUser returns the user's conversations, most recently
// active first, with participants display-resolved and the unread counter
// scoped to the caller.
func ListConversationsForUser(userID uuid.UUID) ([]ConversationSummary, error) {
	var conversations []models.Conversation
	err := database.DB.
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ?", userID).
		Preload("Participants.User").
		Order("conversations.updated_at desc").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for i := range conversations {
		summaries = append(summaries, summarizeFor(&conversations[i], userID))
	}
	return summaries, nil
}

// GetConversation returns the full conversation with messages in
// chronological order; only participants may read it.
func GetConversation(conversationID, userID uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := database.DB.
		Preload("Participants.User").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.created_at asc, messages.id asc")
		}).
		First(&conversation, "id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	for _, p := range conversation.Participants {
		if p.UserID == userID {
			return &conversation, nil
		}
	}
	return nil, ErrForbidden
}

// IsParticipant reports whether the user is a member of the conversation.
// The socket layer uses it to authorize joins and read receipts.
func IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	return isParticipant(database.DB, conversationID, userID)
}

// UnreadCounts flattens a conversation's participant rows into the
// per-user counter map carried on receive_message payloads.
func UnreadCounts(conversation *models.Conversation) map[string]int {
	counts := make(map[string]int, len(conversation.Participants))
	for _, p := range conversation.Participants {
		counts[p.UserID.String()] = p.UnreadCount
	}
	return counts
}

// LastMessageOf extracts the denormalized last-message summary, or nil for
// an empty conversation.
func LastMessageOf(conversation *models.Conversation) *LastMessage {
	if conversation.LastMessageText == nil || conversation.LastMessageSenderID == nil || conversation.LastMessageAt == nil {
		return nil
	}
	return &LastMessage{
		Text:     *conversation.LastMessageText,
		SenderID: *conversation.LastMessageSenderID,
		SentAt:   *conversation.LastMessageAt,
		IsRead:   conversation.LastMessageRead,
	}
}

func summarizeFor(conversation *models.Conversation, userID uuid.UUID) ConversationSummary {
	summary := ConversationSummary{
		ID:           conversation.ID,
		Participants: conversation.Participants,
		LastMessage:  LastMessageOf(conversation),
		UpdatedAt:    conversation.UpdatedAt,
	}
	for _, p := range conversation.Participants {
		if p.UserID == userID {
			summary.UnreadCount = p.UnreadCount
		}
	}
	return summary
}

func isParticipant(tx *gorm.DB, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}
