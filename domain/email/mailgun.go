package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/pkg/logger"
)

// MailgunSender sends emails via the Mailgun API.
// This is a thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	cfg    config.EmailConfig
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg *config.Config, log *slog.Logger) *MailgunSender {
	if !cfg.Email.IsConfigured() {
		return nil
	}

	client := mailgun.NewMailgun(cfg.Email.MailgunDomain, cfg.Email.MailgunAPIKey)

	return &MailgunSender{
		cfg:    cfg.Email,
		log:    log.With(logger.Scope("email.mailgun")),
		client: client,
	}
}

// Send sends an email via Mailgun. Transport failures return an error
// so the queue handler can classify them as retryable.
func (s *MailgunSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	if !s.cfg.Enabled {
		s.log.Warn("email sending is disabled (EMAIL_ENABLED=false)")
		return &SendResult{Success: false, Error: "email sending is disabled"}, nil
	}

	to := opts.To
	if opts.ToName != "" {
		to = fmt.Sprintf("%s <%s>", opts.ToName, opts.To)
	}
	from := fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)

	message := s.client.NewMessage(from, opts.Subject, opts.Text, to)
	if opts.HTML != "" {
		message.SetHtml(opts.HTML)
	}

	s.log.Debug("sending email",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		s.log.Error("failed to send email",
			slog.String("to", opts.To),
			logger.Error(err))
		return nil, fmt.Errorf("mailgun send: %w", err)
	}

	s.log.Info("email sent",
		slog.String("to", opts.To),
		slog.String("message_id", messageID))

	return &SendResult{Success: true, MessageID: messageID}, nil
}

var _ Sender = (*MailgunSender)(nil)
