package messaging

import (
	"time"

	"github.com/uptrace/bun"
)

// Conversation is the single thread between a student and an instructor.
// The participant pair is stored normalized (participant_a < participant_b)
// under a unique index, which is what lets concurrent first-contact
// messages collapse onto one row via upsert instead of check-then-act.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:cv"`

	ID           string `bun:"id,pk" json:"id"`
	ParticipantA string `bun:"participant_a,notnull" json:"participantA"`
	ParticipantB string `bun:"participant_b,notnull" json:"participantB"`

	// Denormalized preview of the latest message
	LastMessageBody string    `bun:"last_message_body" json:"lastMessageBody"`
	LastMessageAt   time.Time `bun:"last_message_at,nullzero" json:"lastMessageAt"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`

	Messages []Message `bun:"rel:has-many,join:id=conversation_id" json:"messages,omitempty"`
}

// Message is immutable once written except for the delivery flags.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string    `bun:"id,pk" json:"id"`
	ConversationID string    `bun:"conversation_id,notnull" json:"conversationId"`
	SenderID       string    `bun:"sender_id,notnull" json:"senderId"`
	Body           string    `bun:"body,notnull" json:"body"`
	IsDelivered    bool      `bun:"is_delivered,notnull,default:false" json:"isDelivered"`
	IsRead         bool      `bun:"is_read,notnull,default:false" json:"isRead"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`

	Conversation *Conversation `bun:"rel:belongs-to,join:conversation_id=id" json:"-"`
}

// NormalizeParticipants orders a pair so the same two users always map
// to the same (participant_a, participant_b) key regardless of sender.
func NormalizeParticipants(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// OtherParticipant returns the conversation member that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}
