package earnings

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coursekit/coursekit/domain/realtime"
	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler applies EarningsUpdate jobs to the ledger
type Handler struct {
	ledger Ledger
	relay  realtime.Relay
	shares config.EarningsConfig
	log    *slog.Logger
}

// NewHandler creates the earnings job handler
func NewHandler(ledger Ledger, relay realtime.Relay, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		relay:  relay,
		shares: cfg.Earnings,
		log:    log.With(logger.Scope("earnings.handler")),
	}
}

// Handle processes one EarningsUpdate delivery. The single atomic increment
// is the whole side effect: a delivery that fails has applied nothing, and
// a retried delivery applies the increment once total.
func (h *Handler) Handle(ctx context.Context, kind jobs.Kind, payload json.RawMessage) jobs.Result {
	var p jobs.EarningsUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Fatal(err)
	}

	delta := ComputeSplit(p.TotalAmount, h.shares.InstructorShareBps, h.shares.AdminShareBps)

	created, err := h.ledger.Apply(ctx, p.InstructorID, delta, p.SaleRef)
	if err != nil {
		// Store errors are transient from the handler's view
		return jobs.Retry(err)
	}

	h.log.Info("earnings applied",
		slog.String("instructor_id", p.InstructorID),
		slog.Int64("total_amount", p.TotalAmount),
		slog.Bool("aggregate_created", created))

	h.relay.EmitToUser(p.InstructorID, realtime.EventEarningsUpdated, map[string]any{
		"instructorEarnings": delta.Instructor,
		"saleAmount":         p.TotalAmount,
	})
	return jobs.Ok()
}

// Compensate runs when an EarningsUpdate dead-letters. The atomic apply
// never partially commits, so there is no balance to roll back; the only
// state a failed job could have left behind is an aggregate row it created
// itself, and that is the only thing deleted. Aggregates holding prior
// legitimate earnings are never removed.
func (h *Handler) Compensate(ctx context.Context, payload []byte, cause error) {
	var p jobs.EarningsUpdatePayload
	if _, raw, err := jobs.Decode(payload); err == nil {
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
	} else {
		return
	}

	deleted, err := h.ledger.DeleteIfCreatedBy(ctx, p.InstructorID, p.SaleRef)
	if err != nil {
		h.log.Error("earnings compensation failed",
			slog.String("instructor_id", p.InstructorID),
			logger.Error(err))
		return
	}
	h.log.Warn("earnings job dead-lettered",
		slog.String("instructor_id", p.InstructorID),
		slog.String("sale_ref", p.SaleRef),
		slog.Bool("aggregate_deleted", deleted),
		logger.Error(cause))
}
