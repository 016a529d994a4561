package videos

import (
	"time"

	"github.com/uptrace/bun"
)

// ProcessStatus tracks the ingest pipeline state of a video asset.
type ProcessStatus string

const (
	ProcessStatusPending   ProcessStatus = "pending"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// ApprovalStatus is set by admin review, independent of processing.
type ApprovalStatus string

const (
	ApprovalStatusNone     ApprovalStatus = "none"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Course aggregates denormalized counters over its sections' videos.
type Course struct {
	bun.BaseModel `bun:"table:courses,alias:c"`

	ID                   string    `bun:"id,pk" json:"id"`
	InstructorID         string    `bun:"instructor_id,notnull" json:"instructorId"`
	Title                string    `bun:"title,notnull" json:"title"`
	TotalVideos          int       `bun:"total_videos,notnull,default:0" json:"totalVideos"`
	TotalDurationSeconds int64     `bun:"total_duration_seconds,notnull,default:0" json:"totalDurationSeconds"`
	CreatedAt            time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt            time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// Section groups videos within a course and carries the same counters.
type Section struct {
	bun.BaseModel `bun:"table:sections,alias:s"`

	ID                   string    `bun:"id,pk" json:"id"`
	CourseID             string    `bun:"course_id,notnull" json:"courseId"`
	Title                string    `bun:"title,notnull" json:"title"`
	TotalVideos          int       `bun:"total_videos,notnull,default:0" json:"totalVideos"`
	TotalDurationSeconds int64     `bun:"total_duration_seconds,notnull,default:0" json:"totalDurationSeconds"`
	CreatedAt            time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt            time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// VideoAsset is the unit of the ingest pipeline. A row must never
// reference a storage key that will not eventually exist in the blob
// store, which is why creation and counter increments commit together
// and dead-lettered uploads compensate by removing the row again.
type VideoAsset struct {
	bun.BaseModel `bun:"table:video_assets,alias:v"`

	ID              string         `bun:"id,pk" json:"id"`
	SectionID       string         `bun:"section_id,notnull" json:"sectionId"`
	CourseID        string         `bun:"course_id,notnull" json:"courseId"`
	Title           string         `bun:"title,notnull" json:"title"`
	StorageKey      string         `bun:"storage_key,notnull" json:"storageKey"`
	DurationSeconds int64          `bun:"duration_seconds,notnull" json:"durationSeconds"`
	SizeBytes       int64          `bun:"size_bytes,notnull" json:"sizeBytes"`
	ProcessStatus   ProcessStatus  `bun:"process_status,notnull,default:'pending'" json:"processStatus"`
	ApprovalStatus  ApprovalStatus `bun:"approval_status,notnull,default:'none'" json:"approvalStatus"`
	Renditions      []string       `bun:"renditions,array" json:"renditions,omitempty"`
	CreatedAt       time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt       time.Time      `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}
