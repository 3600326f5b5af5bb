package domain

import "time"

// PageJob asks for one page of a sync window to be fetched and persisted.
type PageJob struct {
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Page        int       `json:"page"`
	ParentRunID string    `json:"parentRunId"`
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusFailed  JobStatus = "failed"
)

// JobRecord is a PageJob as held by the job store.
// Completed jobs are deleted, so a stored record is never "completed".
type JobRecord struct {
	ID     string
	Job    PageJob
	Status JobStatus

	Attempts     int // attempts started so far
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64

	NextRunAt   time.Time
	LockedUntil time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted reports whether the attempt budget has been used up.
func (j *JobRecord) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
