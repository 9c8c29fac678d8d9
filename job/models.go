package job

import "time"

type Status string

const (
	StatusOpen       Status = "open"
	StatusOffered    Status = "offered"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// Job mirrors the jobs table. AcceptedOfferID is non-nil exactly when the
// job is confirmed, in progress, or completed.
type Job struct {
	ID              string
	HomeownerID     string
	Category        string
	Priority        Priority
	Status          Status
	AcceptedOfferID *string
	ContractorID    *string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Filters struct {
	HomeownerID  string
	ContractorID string
	Status       Status
	Category     string
	Page         int
	PageSize     int
}
