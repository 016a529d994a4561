package payments

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/pkg/apperror"
	"github.com/coursekit/coursekit/pkg/logger"
)

// HTTPHandler hosts checkout and the gateway webhook. The webhook is
// the producer side of the earnings pipeline: a completed purchase
// enqueues the EarningsUpdate job keyed by the gateway event id.
type HTTPHandler struct {
	enrollments Enrollments
	broker      jobs.Broker
	log         *slog.Logger
}

func NewHTTPHandler(enrollments Enrollments, broker jobs.Broker, log *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		enrollments: enrollments,
		broker:      broker,
		log:         log.With(logger.Scope("payments")),
	}
}

func RegisterRoutes(e *echo.Echo, h *HTTPHandler) {
	api := e.Group("/api/payments")
	api.POST("/checkout", h.HandleCheckout)
	api.POST("/webhook", h.HandleWebhook)
	api.GET("/enrollments/:enrollmentId", h.HandleGetEnrollment)
}

type checkoutRequest struct {
	UserID       string `json:"userId"`
	CourseID     string `json:"courseId"`
	InstructorID string `json:"instructorId"`
	Amount       int64  `json:"amount"`
	Email        string `json:"email,omitempty"`
}

// HandleCheckout records a pending enrollment before the client is
// redirected to the gateway. The webhook completes it later.
func (h *HTTPHandler) HandleCheckout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid checkout body")
	}
	if req.UserID == "" || req.CourseID == "" || req.InstructorID == "" {
		return apperror.NewBadRequest("userId, courseId and instructorId are required")
	}
	if req.Amount <= 0 {
		return apperror.NewBadRequest("amount must be positive minor units")
	}

	enrollment := &Enrollment{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		CourseID:     req.CourseID,
		InstructorID: req.InstructorID,
		Amount:       req.Amount,
		Status:       EnrollmentStatusPending,
	}
	if err := h.enrollments.Create(c.Request().Context(), enrollment); err != nil {
		return apperror.NewInternal("failed to create enrollment", err)
	}
	return c.JSON(http.StatusCreated, enrollment)
}

type webhookMetadata struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
	Email    string `json:"email,omitempty"`
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Metadata  webhookMetadata `json:"metadata"`
}

// HandleWebhook processes gateway deliveries. It always answers 200 for
// well-formed events so the gateway stops retrying; idempotency comes
// from the pending-then-flip update plus the job dedupe key, never from
// trusting the gateway to deliver once.
func (h *HTTPHandler) HandleWebhook(c echo.Context) error {
	var event webhookEvent
	if err := c.Bind(&event); err != nil {
		return apperror.NewBadRequest("invalid webhook body")
	}
	if event.ID == "" || event.Metadata.CourseID == "" || event.Metadata.UserID == "" {
		return apperror.NewBadRequest("webhook event requires id and metadata.courseId/userId")
	}

	if event.EventType != "checkout.completed" {
		h.log.Debug("ignoring webhook event", slog.String("event_type", event.EventType))
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	ctx := c.Request().Context()
	enrollment, flipped, err := h.enrollments.CompleteEnrollment(ctx, event.Metadata.CourseID, event.Metadata.UserID, event.ID)
	if err != nil {
		return apperror.NewInternal("failed to complete enrollment", err)
	}
	if enrollment == nil {
		h.log.Warn("webhook for unknown enrollment",
			slog.String("course_id", event.Metadata.CourseID),
			slog.String("user_id", event.Metadata.UserID),
		)
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}
	if !flipped {
		h.log.Info("duplicate webhook delivery",
			slog.String("enrollment_id", enrollment.ID),
			slog.String("event_id", event.ID),
		)
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	if err := h.enqueueDownstream(c, enrollment, event); err != nil {
		// the enrollment is flipped but the jobs are not durable yet;
		// a non-2xx makes the gateway redeliver and the dedupe keys
		// absorb the replay
		return apperror.NewInternal("failed to queue purchase jobs", err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

func (h *HTTPHandler) enqueueDownstream(c echo.Context, enrollment *Enrollment, event webhookEvent) error {
	ctx := c.Request().Context()

	earnings, err := jobs.Encode(jobs.KindEarningsUpdate, &jobs.EarningsUpdatePayload{
		InstructorID: enrollment.InstructorID,
		TotalAmount:  enrollment.Amount,
		SaleRef:      event.ID,
	})
	if err != nil {
		return fmt.Errorf("encode earnings job: %w", err)
	}
	if _, err := h.broker.Enqueue(ctx, jobs.QueueEarnings, earnings, jobs.Options{
		DedupeKey: "earnings-" + event.ID,
	}); err != nil {
		return fmt.Errorf("enqueue earnings: %w", err)
	}

	if event.Metadata.Email != "" {
		confirmation, err := jobs.Encode(jobs.KindEmailSend, &jobs.EmailSendPayload{
			To:      event.Metadata.Email,
			Subject: "Your course purchase is confirmed",
			HTML:    fmt.Sprintf("<p>You're enrolled. Enrollment reference: %s</p>", enrollment.ID),
		})
		if err != nil {
			return fmt.Errorf("encode confirmation email: %w", err)
		}
		if _, err := h.broker.Enqueue(ctx, jobs.QueueEmail, confirmation, jobs.Options{
			DedupeKey: "purchase-email-" + event.ID,
		}); err != nil {
			return fmt.Errorf("enqueue confirmation email: %w", err)
		}
	}

	h.log.Info("purchase completed",
		slog.String("enrollment_id", enrollment.ID),
		slog.String("instructor_id", enrollment.InstructorID),
		slog.Int64("amount", enrollment.Amount),
	)
	return nil
}

func (h *HTTPHandler) HandleGetEnrollment(c echo.Context) error {
	enrollment, err := h.enrollments.Get(c.Request().Context(), c.Param("enrollmentId"))
	if err != nil {
		return apperror.NewInternal("failed to load enrollment", err)
	}
	if enrollment == nil {
		return apperror.NewNotFound("enrollment", c.Param("enrollmentId"))
	}
	return c.JSON(http.StatusOK, enrollment)
}
