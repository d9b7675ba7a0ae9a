package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a two-participant message thread. PairKey is the two
// participant ids sorted and joined, so the unordered pair {A,B} maps to
// exactly one row and concurrent first-contact creates collide on the
// unique index instead of duplicating the thread.
//
// The LastMessage* columns are a denormalized cache of the newest message
// for list views; they are only ever written inside the chat service's
// transactions, together with the message rows they summarize.
type Conversation struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	PairKey string    `gorm:"size:80;not null;uniqueIndex" json:"-"`

	LastMessageText     *string    `gorm:"type:text" json:"last_message_text,omitempty"`
	LastMessageSenderID *uuid.UUID `gorm:"type:uuid" json:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastMessageRead     bool       `gorm:"not null;default:false" json:"last_message_read"`

	Participants []ConversationParticipant `gorm:"foreignkey:ConversationID" json:"participants,omitempty"`
	Messages     []Message                 `gorm:"foreignkey:ConversationID" json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationParticipant links a user into a conversation and carries the
// per-participant unread counter. Invariant: UnreadCount equals the number
// of messages in the conversation sent by the other participant that are
// still unread.
type ConversationParticipant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	UnreadCount    int       `gorm:"not null;default:0" json:"unread_count"`

	User User `gorm:"foreignkey:UserID" json:"user"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// PairKeyFor canonicalizes an unordered participant pair.
func PairKeyFor(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
