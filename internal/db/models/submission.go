package models

import "time"

// Submission statuses. Transitions are strictly forward; "failed" is reachable
// from any non-terminal status and records the stage that broke.
const (
	StatusReceived    = "received"
	StatusExtracted   = "extracted"
	StatusFieldsReady = "fields_ready"
	StatusMapped      = "mapped"
	StatusScheduled   = "scheduled"
	StatusNotified    = "notified"
	StatusFailed      = "failed"
)

// IntakeSubmission is one unit of intake work: a scanned report submitted
// against an existing matter. Stage flags record which idempotent stages have
// already committed so a resumed run can skip them instead of rolling back.
type IntakeSubmission struct {
	ID         string `gorm:"primaryKey"` // UUID
	AccountID  string `gorm:"index"`
	MatterID   int
	TemplateID int

	Status        string `gorm:"index"`
	FailedStage   string
	FailureReason string

	FieldsReady       bool
	Mapped            bool
	Scheduled         bool
	DocumentRequested bool
	Notified          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
