package email

import (
	"context"
	"log/slog"

	"github.com/coursekit/coursekit/pkg/logger"
)

// SendOptions describes one outgoing email
type SendOptions struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// SendResult reports the provider outcome
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Sender delivers transactional email. The Mailgun implementation is
// used when configured; the no-op sender keeps dev and test
// environments working without a provider account.
type Sender interface {
	Send(ctx context.Context, opts SendOptions) (*SendResult, error)
}

// NoOpSender logs instead of sending
type NoOpSender struct {
	log *slog.Logger
}

func NewNoOpSender(log *slog.Logger) *NoOpSender {
	return &NoOpSender{log: log.With(logger.Scope("email.noop"))}
}

func (s *NoOpSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	s.log.Info("email sending disabled, dropping message",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject),
	)
	return &SendResult{Success: true, MessageID: "noop"}, nil
}
