package messaging

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/pkg/apperror"
)

// HTTPHandler exposes the synchronous messaging surface. Sending a
// message only enqueues the fan-in job; the durable write happens on
// the conversation queue workers.
type HTTPHandler struct {
	store  Store
	broker jobs.Broker
}

func NewHTTPHandler(store Store, broker jobs.Broker) *HTTPHandler {
	return &HTTPHandler{store: store, broker: broker}
}

func RegisterRoutes(e *echo.Echo, h *HTTPHandler) {
	api := e.Group("/api")
	api.POST("/messages", h.HandleSendMessage)
	api.GET("/conversations", h.HandleListConversations)
	api.GET("/conversations/:conversationId/messages", h.HandleListMessages)
	api.POST("/conversations/:conversationId/read", h.HandleMarkRead)
}

type sendMessageRequest struct {
	UserID       string `json:"userId"`
	InstructorID string `json:"instructorId"`
	Message      string `json:"message"`
}

func (h *HTTPHandler) HandleSendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid message body")
	}
	if req.UserID == req.InstructorID {
		return apperror.NewBadRequest("cannot message yourself")
	}

	payload, err := jobs.Encode(jobs.KindConversationUpsert, &jobs.ConversationUpsertPayload{
		UserID:       req.UserID,
		InstructorID: req.InstructorID,
		Message:      req.Message,
	})
	if err != nil {
		return apperror.NewBadRequest("userId, instructorId and message are required")
	}

	jobID, err := h.broker.Enqueue(c.Request().Context(), jobs.QueueConversations, payload, jobs.Options{})
	if err != nil {
		return apperror.NewInternal("failed to queue message", err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *HTTPHandler) HandleListConversations(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return apperror.NewBadRequest("userId is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	conversations, err := h.store.ConversationsForUser(c.Request().Context(), userID, limit)
	if err != nil {
		return apperror.NewInternal("failed to list conversations", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *HTTPHandler) HandleListMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	messages, err := h.store.Messages(c.Request().Context(), c.Param("conversationId"), limit)
	if err != nil {
		return apperror.NewInternal("failed to list messages", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

func (h *HTTPHandler) HandleMarkRead(c echo.Context) error {
	readerID := c.QueryParam("userId")
	if readerID == "" {
		return apperror.NewBadRequest("userId is required")
	}

	n, err := h.store.MarkRead(c.Request().Context(), c.Param("conversationId"), readerID)
	if err != nil {
		return apperror.NewInternal("failed to mark messages read", err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}
