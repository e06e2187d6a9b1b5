package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job's current or last run.
//
//	idle ──► queued ──► running ──► done
//	  ▲         │                 └─► error
//	  └─────────┘ (trigger rejected)
//
// done and error return to idle when the job is triggered again.
type JobStatus string

const (
	JobStatusIdle    JobStatus = "idle"
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusIdle:    {JobStatusQueued},
	JobStatusQueued:  {JobStatusRunning, JobStatusIdle, JobStatusError},
	JobStatusRunning: {JobStatusDone, JobStatusError},
	JobStatusDone:    {JobStatusIdle},
	JobStatusError:   {JobStatusIdle},
}

// ParseJobStatus converts a stored status string, rejecting unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusIdle, JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusError:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition reports whether moving from -> to is a legal step.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition when from -> to is not allowed.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// FinishedStatuses are the terminal states a job leaves for idle when it is
// triggered again.
func FinishedStatuses() []JobStatus {
	return []JobStatus{JobStatusDone, JobStatusError}
}

// IsActiveRun reports whether a run is queued or in flight.
func (s JobStatus) IsActiveRun() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job is one configured monitoring task.
type Job struct {
	ID         int64
	AccountID  int64
	Name       string
	Sources    []string
	Keywords   []string // lower-cased, deduplicated, non-empty
	PostLimit  int
	AIEnabled  bool
	AIGuidance string
	Active     bool
	Status     JobStatus
	LastRunAt  *time.Time
	LastError  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Account owns jobs and carries the tier limits the pipeline needs.
type Account struct {
	ID                int64  `db:"id"`
	Name              string `db:"name"`
	MonthlyAIQuota    int    `db:"monthly_ai_quota"`
	MaxConcurrentRuns int    `db:"max_concurrent_runs"`
}
