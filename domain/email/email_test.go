package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/coursekit/internal/jobs"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []SendOptions
	sendErr error
	result  *SendResult
}

func (s *fakeSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, opts)
	if s.result != nil {
		return s.result, nil
	}
	return &SendResult{Success: true, MessageID: "msg-1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func emailPayload(t *testing.T) []byte {
	t.Helper()
	data, err := jobs.Encode(jobs.KindEmailSend, &jobs.EmailSendPayload{
		To:      "student@example.com",
		Subject: "Welcome to the course",
		HTML:    "<p>Welcome</p>",
	})
	require.NoError(t, err)
	_, raw, err := jobs.Decode(data)
	require.NoError(t, err)
	return raw
}

func TestHandle_SendsAndAcks(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, testLogger())

	result := h.Handle(context.Background(), jobs.KindEmailSend, emailPayload(t))
	require.NoError(t, result.Err())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "student@example.com", sender.sent[0].To)
	assert.Equal(t, "Welcome to the course", sender.sent[0].Subject)
}

func TestHandle_TransportErrorRetries(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("connection reset")}
	h := NewHandler(sender, testLogger())

	result := h.Handle(context.Background(), jobs.KindEmailSend, emailPayload(t))
	assert.Error(t, result.Err())
}

func TestHandle_DisabledProviderAcks(t *testing.T) {
	sender := &fakeSender{result: &SendResult{Success: false, Error: "email sending is disabled"}}
	h := NewHandler(sender, testLogger())

	result := h.Handle(context.Background(), jobs.KindEmailSend, emailPayload(t))
	assert.NoError(t, result.Err(), "disabled provider drains the queue instead of retrying forever")
}

func TestNoOpSender(t *testing.T) {
	s := NewNoOpSender(testLogger())
	res, err := s.Send(context.Background(), SendOptions{To: "a@b.c", Subject: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
