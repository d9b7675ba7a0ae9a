package jobs

import (
	"log"

	"github.com/bookhooks/bookhooks-backend/database"
	"github.com/bookhooks/bookhooks-backend/models"
)

// RecountUnreadCounters recomputes every participant's unread counter from
// the messages table and repairs drift. The chat service maintains the
// counters transactionally; this sweep is the safety net behind that
// invariant.
func RecountUnreadCounters() {
	log.Println("Running job: RecountUnreadCounters...")

	var participants []models.ConversationParticipant
	if err := database.DB.Find(&participants).Error; err != nil {
		log.Printf("Error loading participant rows: %v", err)
		return
	}

	repaired := 0
	for _, p := range participants {
		var actual int64
		err := database.DB.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", p.ConversationID, p.UserID, false).
			Count(&actual).Error
		if err != nil {
			log.Printf("Error counting unread messages for %s in %s: %v", p.UserID, p.ConversationID, err)
			continue
		}

		if int(actual) == p.UnreadCount {
			continue
		}

		err = database.DB.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", p.ConversationID, p.UserID).
			UpdateColumn("unread_count", actual).Error
		if err != nil {
			log.Printf("Error repairing unread counter for %s in %s: %v", p.UserID, p.ConversationID, err)
			continue
		}
		log.Printf("Repaired unread counter for %s in %s: %d -> %d", p.UserID, p.ConversationID, p.UnreadCount, actual)
		repaired++
	}

	if repaired == 0 {
		log.Println("No unread counter drift found.")
	} else {
		log.Printf("Repaired %d unread counter(s).", repaired)
	}
}
