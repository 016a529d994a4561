package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler consumes email send jobs. Provider transport errors retry;
// a disabled provider acks so queued mail drains instead of piling up.
type Handler struct {
	sender Sender
	log    *slog.Logger
}

func NewHandler(sender Sender, log *slog.Logger) *Handler {
	return &Handler{
		sender: sender,
		log:    log.With(logger.Scope("email.worker")),
	}
}

func (h *Handler) Handle(ctx context.Context, kind jobs.Kind, payload json.RawMessage) jobs.Result {
	var p jobs.EmailSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Fatal(fmt.Errorf("decode email payload: %w", err))
	}

	result, err := h.sender.Send(ctx, SendOptions{
		To:      p.To,
		Subject: p.Subject,
		HTML:    p.HTML,
	})
	if err != nil {
		return jobs.Retry(fmt.Errorf("send email to %s: %w", p.To, err))
	}
	if !result.Success {
		h.log.Warn("email dropped",
			slog.String("to", p.To),
			slog.String("reason", result.Error),
		)
		return jobs.Ok()
	}

	h.log.Info("email delivered to provider",
		slog.String("to", p.To),
		slog.String("message_id", result.MessageID),
	)
	return jobs.Ok()
}
