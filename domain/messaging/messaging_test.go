package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/coursekit/internal/jobs"
)

// memoryStore keeps the fan-in contract of the Postgres repository:
// conversations keyed by normalized pair, append is atomic under a lock.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string][]Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
	}
}

func pairKey(a, b string) string {
	a, b = NormalizeParticipants(a, b)
	return a + "|" + b
}

func (s *memoryStore) AppendMessage(ctx context.Context, senderID, recipientID, body string) (*Conversation, *Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(senderID, recipientID)
	conv, ok := s.conversations[key]
	if !ok {
		a, b := NormalizeParticipants(senderID, recipientID)
		conv = &Conversation{ID: uuid.New().String(), ParticipantA: a, ParticipantB: b}
		s.conversations[key] = conv
	}
	conv.LastMessageBody = body
	conv.LastMessageAt = time.Now().UTC()

	msg := Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)

	snapshot := *conv
	return &snapshot, &msg, nil
}

func (s *memoryStore) ConversationsForUser(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, conv := range s.conversations {
		if conv.ParticipantA == userID || conv.ParticipantB == userID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (s *memoryStore) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[conversationID]...), nil
}

func (s *memoryStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].IsRead {
			msgs[i].IsRead = true
			msgs[i].IsDelivered = true
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

type recordingRelay struct {
	mu     sync.Mutex
	events []string
	users  []string
}

func (r *recordingRelay) EmitToUser(userID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.users = append(r.users, userID)
}

func (r *recordingRelay) BroadcastExcept(userID, event string, payload any) {}

func (r *recordingRelay) emitted() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]string(nil), r.users...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encodeUpsert(t *testing.T, userID, instructorID, body string) []byte {
	t.Helper()
	data, err := jobs.Encode(jobs.KindConversationUpsert, &jobs.ConversationUpsertPayload{
		UserID:       userID,
		InstructorID: instructorID,
		Message:      body,
	})
	require.NoError(t, err)
	return data
}

func TestNormalizeParticipants(t *testing.T) {
	a, b := NormalizeParticipants("user-2", "user-1")
	assert.Equal(t, "user-1", a)
	assert.Equal(t, "user-2", b)

	a2, b2 := NormalizeParticipants("user-1", "user-2")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestHandle_TwoMessagesOneConversation(t *testing.T) {
	store := newMemoryStore()
	relay := &recordingRelay{}
	h := NewHandler(store, relay, testLogger())
	ctx := context.Background()

	for _, body := range []string{"hello", "are you there?"} {
		_, raw, err := jobs.Decode(encodeUpsert(t, "student-1", "instructor-1", body))
		require.NoError(t, err)
		result := h.Handle(ctx, jobs.KindConversationUpsert, raw)
		require.NoError(t, result.Err())
	}

	assert.Equal(t, 1, store.conversationCount())

	conversations, err := store.ConversationsForUser(ctx, "student-1", 0)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "are you there?", conversations[0].LastMessageBody)

	messages, err := store.Messages(ctx, conversations[0].ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	events, users := relay.emitted()
	assert.Equal(t, []string{"message.received", "message.received"}, events)
	assert.Equal(t, []string{"instructor-1", "instructor-1"}, users)
}

func TestHandle_SelfMessageIsLoggedNoOp(t *testing.T) {
	store := newMemoryStore()
	relay := &recordingRelay{}
	h := NewHandler(store, relay, testLogger())

	_, raw, err := jobs.Decode(encodeUpsert(t, "user-1", "user-1", "talking to myself"))
	require.NoError(t, err)

	result := h.Handle(context.Background(), jobs.KindConversationUpsert, raw)
	require.NoError(t, result.Err(), "self-message acks, it does not retry")
	assert.Equal(t, 0, store.conversationCount())

	events, _ := relay.emitted()
	assert.Empty(t, events)
}

func TestHandle_ConcurrentFirstContactSingleConversation(t *testing.T) {
	store := newMemoryStore()
	broker := jobs.NewMemoryBroker()
	rt := jobs.NewRuntime(broker, jobs.RuntimeConfig{
		PollInterval:  2 * time.Millisecond,
		LeaseDuration: time.Minute,
	}, testLogger())

	h := NewHandler(store, &recordingRelay{}, testLogger())
	rt.Register(jobs.QueueConversations, h.Handle, jobs.HandlerOptions{Concurrency: 4})
	require.NoError(t, rt.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rt.Stop(ctx)
	}()

	// both directions of the same pair, all racing
	const n = 20
	for i := 0; i < n; i++ {
		sender, recipient := "student-1", "instructor-1"
		if i%2 == 1 {
			sender, recipient = recipient, sender
		}
		_, err := broker.Enqueue(context.Background(), jobs.QueueConversations,
			encodeUpsert(t, sender, recipient, fmt.Sprintf("message %d", i)), jobs.Options{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := broker.Stats(context.Background(), jobs.QueueConversations)
		return err == nil && stats.Completed == n
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, store.conversationCount(), "one conversation per pair")

	conversations, err := store.ConversationsForUser(context.Background(), "student-1", 0)
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	messages, err := store.Messages(context.Background(), conversations[0].ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, n, "every message lands in the single conversation")
}

func TestMarkRead_FlipsOnlyReceivedMessages(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	conv, _, err := store.AppendMessage(ctx, "student-1", "instructor-1", "q1")
	require.NoError(t, err)
	_, _, err = store.AppendMessage(ctx, "instructor-1", "student-1", "a1")
	require.NoError(t, err)

	n, err := store.MarkRead(ctx, conv.ID, "instructor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the student's message flips")

	messages, err := store.Messages(ctx, conv.ID, 0)
	require.NoError(t, err)
	for _, m := range messages {
		if m.SenderID == "student-1" {
			assert.True(t, m.IsRead)
		} else {
			assert.False(t, m.IsRead)
		}
	}
}
