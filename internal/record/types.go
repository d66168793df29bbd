package record

import "time"

// Status is the lifecycle state of an analysis task.
// Valid transitions: processing -> completed, processing -> failed.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted row for one submitted document.
// Result is set only when completed, Error only when failed.
type Record struct {
	TaskID    string
	Status    Status
	FileName  string
	Query     string
	Result    *string
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
