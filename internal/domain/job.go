package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobType is the closed set of deferred work the executor knows how to run.
type JobType string

const (
	JobTypeFileCleanup JobType = "file_cleanup"
	JobTypeReminder    JobType = "reminder"
)

// ValidJobType reports whether t is a recognized job type.
func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeFileCleanup, JobTypeReminder:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a final state. A job in a terminal state
// never transitions again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed.
// Transitions are forward-only: scheduled -> running -> {completed, failed},
// scheduled -> cancelled. Self-transitions are allowed (idempotent updates).
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch from {
	case JobStatusScheduled:
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

// DefaultTitle is used when a job is scheduled without one.
const DefaultTitle = "untitled task"

// Job is one unit of deferred, one-shot work owned by a user.
type Job struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Type    JobType
	DueTime time.Time
	Status  JobStatus

	Title        string
	NotifyTarget string

	// ResourceID points at an uploaded file the job operates on, if any.
	ResourceID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}
