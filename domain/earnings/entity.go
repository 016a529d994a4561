// Package earnings maintains the per-instructor revenue ledger. Every sale
// is applied as one atomic increment; balances only grow.
package earnings

import (
	"time"

	"github.com/uptrace/bun"
)

// InstructorEarnings is the per-instructor aggregate. Exactly one row per
// instructor, created lazily on the first applied sale. Amounts are minor
// currency units (cents).
type InstructorEarnings struct {
	bun.BaseModel `bun:"table:instructor_earnings"`

	InstructorID            string `bun:"instructor_id,pk" json:"instructorId"`
	TotalInstructorEarnings int64  `bun:"total_instructor_earnings,notnull" json:"totalInstructorEarnings"`
	TotalAdminEarnings      int64  `bun:"total_admin_earnings,notnull" json:"totalAdminEarnings"`

	// CreatedByRef is the sale reference that materialized this row.
	// Written on insert only; dead-letter compensation matches against it.
	CreatedByRef string `bun:"created_by_ref,nullzero" json:"-"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

// Split is one sale divided into ledger deltas
type Split struct {
	Instructor int64
	Admin      int64
}

// ComputeSplit divides a sale amount by the configured shares, in basis
// points. Integer division truncates; the remainder stays unallocated
// rather than being invented for either side.
func ComputeSplit(totalAmount int64, instructorBps, adminBps int) Split {
	return Split{
		Instructor: totalAmount * int64(instructorBps) / 10000,
		Admin:      totalAmount * int64(adminBps) / 10000,
	}
}
