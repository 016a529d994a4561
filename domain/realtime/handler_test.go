package realtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/coursekit/internal/config"
)

// flushRecorder is a response writer that signals every flush, so tests can
// wait for a frame to land without polling the body concurrently
type flushRecorder struct {
	mu      sync.Mutex
	header  http.Header
	body    bytes.Buffer
	flushed chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{
		header:  make(http.Header),
		flushed: make(chan struct{}, 16),
	}
}

func (r *flushRecorder) Header() http.Header { return r.header }

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *flushRecorder) WriteHeader(int) {}

func (r *flushRecorder) Flush() {
	select {
	case r.flushed <- struct{}{}:
	default:
	}
}

func (r *flushRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func (r *flushRecorder) waitFlush(t *testing.T) {
	t.Helper()
	select {
	case <-r.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame to flush")
	}
}

func streamToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func streamHandler(reg *Registry, buffer int) *Handler {
	cfg := &config.Config{Realtime: config.RealtimeConfig{
		JWTSecret:         "stream-secret",
		HeartbeatInterval: time.Minute,
		SendBuffer:        buffer,
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(reg, NewTokenVerifier("stream-secret"), cfg, log)
}

func TestHandleStream_DeliversEmittedEvents(t *testing.T) {
	e := echo.New()
	reg := testRegistry()
	h := streamHandler(reg, 8)

	token := streamToken(t, "stream-secret", "user-1")
	req := httptest.NewRequest(http.MethodGet, "/api/realtime/stream?access_token="+token, nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)

	rec := newFlushRecorder()
	c := e.NewContext(req, rec)

	done := make(chan error, 1)
	go func() { done <- h.HandleStream(c) }()

	// Connected frame flushes once the stream is up
	rec.waitFlush(t)
	require.True(t, reg.UserConnected("user-1"))

	reg.EmitToUser("user-1", EventEarningsUpdated, map[string]int64{"instructorEarnings": 700})
	rec.waitFlush(t)

	cancel()
	require.NoError(t, <-done)

	body := rec.String()
	assert.Contains(t, body, "event: "+EventConnected)
	assert.Contains(t, body, "event: "+EventEarningsUpdated)
	assert.Contains(t, body, `"instructorEarnings":700`)
	assert.False(t, reg.UserConnected("user-1"), "connection must leave the registry on return")
}

func TestHandleStream_EmitAfterReturnNeverWrites(t *testing.T) {
	e := echo.New()
	reg := testRegistry()
	h := streamHandler(reg, 8)

	token := streamToken(t, "stream-secret", "user-1")
	req := httptest.NewRequest(http.MethodGet, "/api/realtime/stream?access_token="+token, nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	rec := newFlushRecorder()
	c := e.NewContext(req, rec)

	done := make(chan error, 1)
	go func() { done <- h.HandleStream(c) }()
	rec.waitFlush(t)

	cancel()
	require.NoError(t, <-done)
	before := rec.String()

	// The handler has returned: a late emit must not touch the writer
	reg.EmitToUser("user-1", EventVideoProcessed, nil)
	assert.Equal(t, before, rec.String())
}

func TestHandleStream_RejectsBadToken(t *testing.T) {
	e := echo.New()
	reg := testRegistry()
	h := streamHandler(reg, 8)

	req := httptest.NewRequest(http.MethodGet, "/api/realtime/stream?access_token=garbage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleStream(c)
	require.Error(t, err)
	assert.Equal(t, 0, reg.ConnectionCount())
}

func TestSSEConn_SendAfterCloseFails(t *testing.T) {
	conn := newSSEConn(4)
	require.NoError(t, conn.Send(EventHeartbeat, nil))

	conn.close()
	assert.Error(t, conn.Send(EventHeartbeat, nil))

	// Closing twice is safe
	conn.close()
}

func TestSSEConn_FullBufferDropsEvent(t *testing.T) {
	conn := newSSEConn(2)
	require.NoError(t, conn.Send(EventHeartbeat, nil))
	require.NoError(t, conn.Send(EventHeartbeat, nil))

	err := conn.Send(EventHeartbeat, nil)
	assert.Error(t, err, "a full buffer must drop rather than block a worker")
}
