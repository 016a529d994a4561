package jobs

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/coursekit/coursekit/pkg/apperror"
)

// Queues lists every queue the runtime serves, for the stats endpoint
var Queues = []string{QueueEarnings, QueueVideos, QueueConversations, QueueEmail}

// StatsHandler exposes operational visibility into the queues: per-queue
// counters and the dead-letter sink.
type StatsHandler struct {
	broker Broker
}

func NewStatsHandler(broker Broker) *StatsHandler {
	return &StatsHandler{broker: broker}
}

func RegisterRoutes(e *echo.Echo, h *StatsHandler) {
	admin := e.Group("/api/jobs")
	admin.GET("/stats", h.HandleStats)
	admin.GET("/dead-letters", h.HandleDeadLetters)
}

func (h *StatsHandler) HandleStats(c echo.Context) error {
	ctx := c.Request().Context()

	out := make(map[string]*Stats, len(Queues))
	for _, queue := range Queues {
		stats, err := h.broker.Stats(ctx, queue)
		if err != nil {
			return apperror.NewInternal("failed to load queue stats", err)
		}
		out[queue] = stats
	}
	return c.JSON(http.StatusOK, out)
}

func (h *StatsHandler) HandleDeadLetters(c echo.Context) error {
	queue := c.QueryParam("queue")
	if queue == "" {
		return apperror.NewBadRequest("queue is required")
	}

	dead, err := h.broker.DeadLetters(c.Request().Context(), queue)
	if err != nil {
		return apperror.NewInternal("failed to load dead letters", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": dead})
}
