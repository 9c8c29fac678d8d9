package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Record mirrors the disputes table. Opening a dispute is the coordinator's
// job (it flips the job to disputed in the same transaction); this package
// covers the read and resolution side.
type Record struct {
	ID         string
	JobID      string
	OpenedBy   *string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
