package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coursekit/coursekit/pkg/apperror"
	"github.com/coursekit/coursekit/pkg/logger"
	"github.com/coursekit/coursekit/pkg/pgutils"
)

// Store persists conversations and messages. AppendMessage is the fan-in
// point: find-or-create of the conversation, message insert and the
// last-message denormalization commit as one transaction.
type Store interface {
	AppendMessage(ctx context.Context, senderID, recipientID, body string) (*Conversation, *Message, error)
	ConversationsForUser(ctx context.Context, userID string, limit int) ([]Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Repository handles messaging database operations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("messaging.repo")),
	}
}

// AppendMessage upserts the conversation on its normalized participant
// key and appends the message in the same transaction. Concurrent first
// contacts race on the unique index, not on a read, so exactly one
// conversation row ever exists for a pair.
func (r *Repository) AppendMessage(ctx context.Context, senderID, recipientID, body string) (*Conversation, *Message, error) {
	a, b := NormalizeParticipants(senderID, recipientID)
	now := time.Now().UTC()

	conv := &Conversation{
		ID:              uuid.New().String(),
		ParticipantA:    a,
		ParticipantB:    b,
		LastMessageBody: body,
		LastMessageAt:   now,
	}
	msg := &Message{
		ID:       uuid.New().String(),
		SenderID: senderID,
		Body:     body,
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(conv).
			On("CONFLICT (participant_a, participant_b) DO UPDATE").
			Set("last_message_body = EXCLUDED.last_message_body").
			Set("last_message_at = EXCLUDED.last_message_at").
			Set("updated_at = now()").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		msg.ConversationID = conv.ID
		_, err = tx.NewInsert().
			Model(msg).
			Returning("*").
			Exec(ctx)
		if err != nil {
			if pgutils.IsForeignKeyViolation(err) {
				return apperror.ErrConversationNotFound
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("failed to append message", logger.Error(err))
		return nil, nil, err
	}

	return conv, msg, nil
}

// ConversationsForUser lists a user's conversations, most recent first
func (r *Repository) ConversationsForUser(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	conversations := []Conversation{}
	err := r.db.NewSelect().
		Model(&conversations).
		Where("(participant_a = ? OR participant_b = ?)", userID, userID).
		Order("last_message_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// Messages retrieves messages for a conversation in chronological order
func (r *Repository) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	messages := []Message{}
	err := r.db.NewSelect().
		Model(&messages).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return messages, nil
}

// MarkRead flips the read and delivered flags on every message the
// reader received in the conversation. The message body stays immutable.
func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Message)(nil)).
		Set("is_read = true").
		Set("is_delivered = true").
		Where("conversation_id = ?", conversationID).
		Where("sender_id != ?", readerID).
		Where("is_read = false").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ Store = (*Repository)(nil)
