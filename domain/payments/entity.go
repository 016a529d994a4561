package payments

import (
	"time"

	"github.com/uptrace/bun"
)

// EnrollmentStatus tracks a purchase through the gateway round-trip
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
)

// Enrollment is created pending at checkout and flipped to completed by
// the gateway webhook. Amount and instructor are captured at checkout
// so the webhook can enqueue the earnings update without a course
// lookup. Amounts are minor units.
type Enrollment struct {
	bun.BaseModel `bun:"table:enrollments,alias:e"`

	ID           string           `bun:"id,pk" json:"id"`
	UserID       string           `bun:"user_id,notnull" json:"userId"`
	CourseID     string           `bun:"course_id,notnull" json:"courseId"`
	InstructorID string           `bun:"instructor_id,notnull" json:"instructorId"`
	Amount       int64            `bun:"amount,notnull" json:"amount"`
	Status       EnrollmentStatus `bun:"status,notnull,default:'pending'" json:"status"`
	GatewayRef   string           `bun:"gateway_ref" json:"gatewayRef,omitempty"`
	CreatedAt    time.Time        `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time        `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}
