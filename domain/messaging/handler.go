package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coursekit/coursekit/domain/realtime"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler consumes conversation upsert jobs from the conversation queue
type Handler struct {
	store Store
	relay realtime.Relay
	log   *slog.Logger
}

func NewHandler(store Store, relay realtime.Relay, log *slog.Logger) *Handler {
	return &Handler{
		store: store,
		relay: relay,
		log:   log.With(logger.Scope("messaging.worker")),
	}
}

// Handle routes one message into its conversation. Self-messages are
// acked without effect; a retried job re-runs the whole upsert, which
// only appends the message again if the previous attempt never
// committed, so redelivery stays safe.
func (h *Handler) Handle(ctx context.Context, kind jobs.Kind, payload json.RawMessage) jobs.Result {
	var p jobs.ConversationUpsertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Fatal(fmt.Errorf("decode conversation payload: %w", err))
	}

	if p.UserID == p.InstructorID {
		h.log.Warn("ignoring self-message", slog.String("user_id", p.UserID))
		return jobs.Ok()
	}

	conv, msg, err := h.store.AppendMessage(ctx, p.UserID, p.InstructorID, p.Message)
	if err != nil {
		return jobs.Retry(fmt.Errorf("append message: %w", err))
	}

	h.relay.EmitToUser(p.InstructorID, realtime.EventMessageReceived, map[string]any{
		"conversationId": conv.ID,
		"messageId":      msg.ID,
		"senderId":       p.UserID,
		"body":           msg.Body,
	})

	h.log.Info("message routed",
		slog.String("conversation_id", conv.ID),
		slog.String("sender_id", p.UserID),
	)
	return jobs.Ok()
}
