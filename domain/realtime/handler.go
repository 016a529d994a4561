package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/pkg/apperror"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler serves the SSE stream endpoint
type Handler struct {
	registry   *Registry
	verifier   *TokenVerifier
	heartbeat  time.Duration
	sendBuffer int
	log        *slog.Logger
}

// NewHandler creates the realtime handler
func NewHandler(registry *Registry, verifier *TokenVerifier, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		registry:   registry,
		verifier:   verifier,
		heartbeat:  cfg.Realtime.HeartbeatInterval,
		sendBuffer: cfg.Realtime.SendBuffer,
		log:        log.With(logger.Scope("realtime.handler")),
	}
}

type sseEvent struct {
	name string
	data []byte
}

// sseConn buffers outbound frames for one client. Only the stream handler's
// goroutine touches the ResponseWriter; Send queues the frame and never
// writes, so worker goroutines cannot race the handler returning.
type sseConn struct {
	events chan sseEvent
	done   chan struct{}
	once   sync.Once
}

func newSSEConn(buffer int) *sseConn {
	if buffer <= 0 {
		buffer = 16
	}
	return &sseConn{
		events: make(chan sseEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues an event for delivery. Fire-and-forget: a closed connection or
// a full buffer drops the event and reports the failure to the registry.
func (c *sseConn) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}
	select {
	case c.events <- sseEvent{name: event, data: data}:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *sseConn) close() {
	c.once.Do(func() { close(c.done) })
}

// HandleStream handles GET /api/realtime/stream. The client authenticates
// with a bearer token (Authorization header or access_token query parameter,
// since EventSource cannot set headers); failures are rejected before the
// connection joins the registry.
func (h *Handler) HandleStream(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return apperror.ErrMissingToken
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Warn("handshake rejected", logger.Error(err))
		return apperror.ErrInvalidToken
	}

	w := c.Response().Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	connID := generateConnectionID()
	conn := newSSEConn(h.sendBuffer)

	h.registry.Join(userID, connID, conn)
	defer func() {
		conn.close()
		h.registry.Leave(connID)
	}()

	h.log.Info("stream established",
		slog.String("connection_id", connID),
		slog.String("user_id", userID))

	writeFrame := func(event string, data []byte) error {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	hello, err := json.Marshal(ConnectedPayload{ConnectionID: connID, UserID: userID})
	if err != nil {
		return nil
	}
	if err := writeFrame(EventConnected, hello); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("stream closed",
				slog.String("connection_id", connID))
			return nil
		case ev := <-conn.events:
			if err := writeFrame(ev.name, ev.data); err != nil {
				return nil
			}
		case <-ticker.C:
			beat, err := json.Marshal(heartbeatNow())
			if err != nil {
				return nil
			}
			if err := writeFrame(EventHeartbeat, beat); err != nil {
				return nil
			}
		}
	}
}

// HandleConnectionsCount handles GET /api/realtime/connections/count
func (h *Handler) HandleConnectionsCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"count": h.registry.ConnectionCount(),
	})
}

func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if after, found := strings.CutPrefix(auth, "Bearer "); found {
			return after
		}
	}
	return c.QueryParam("access_token")
}

// generateConnectionID creates a unique connection ID
func generateConnectionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return fmt.Sprintf("sse_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(bytes)[:12])
}
