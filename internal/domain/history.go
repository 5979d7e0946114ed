package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records the outcome of one execution attempt. Entries are
// append-only: written once by the executor at the terminal point of an
// attempt, never updated or deleted. A job may accumulate several entries
// when the queue redelivers.
type HistoryEntry struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	OwnerID uuid.UUID

	JobType JobType
	Status  JobStatus
	Detail  string

	ExecutedAt time.Time
}
