// Package postgres persists jobs, history, queue entries, and users.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskvault/internal/domain"
	"taskvault/internal/executor"
	"taskvault/internal/queue"
	"taskvault/internal/scheduling"
)

// Store implements the persistence contracts of the scheduling service,
// the queue, and the executor on a single PostgreSQL database.
type Store struct {
	db *sql.DB
}

// New creates a store backed by the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.OwnerID,
		string(job.Type),
		job.DueTime,
		string(job.Status),
		job.Title,
		job.NotifyTarget,
		nullableUUID(job.ResourceID),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetJob returns a job by id, regardless of owner. The executor uses this;
// owner-facing reads go through GetJobForOwner.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, queryGetJob, id))
}

// GetJobForOwner returns a job only if it belongs to ownerID. A job owned
// by someone else is indistinguishable from a missing one.
func (s *Store) GetJobForOwner(ctx context.Context, id, ownerID uuid.UUID) (domain.Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, queryGetJobForOwner, id, ownerID))
}

// ListJobs returns the owner's jobs ordered by due time, paginated by
// limit and offset.
func (s *Store) ListJobs(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryListJobs, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// UpdateJobStatus moves a job to a new status.
// Returns domain.ErrStatusTransitionDenied if the job is already in a
// terminal state, domain.ErrNotFound if it does not exist. A repeated
// update to the status the job already has is a silent no-op.
// The guard lives in the UPDATE's WHERE clause so concurrent writers
// serialize on the row lock instead of racing a read-then-write.
func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error {
	result, err := s.db.ExecContext(ctx, queryUpdateJobStatus, string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either the job does not exist or it is terminal. Look at the
		// row to tell the two apart.
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if current == string(status) {
			// Replayed transition into the state we are already in.
			return nil
		}
		return domain.ErrStatusTransitionDenied
	}

	return nil
}

// DeleteJob removes a job and its queue entries in one statement.
// Returns domain.ErrNotFound if the owner has no such job.
func (s *Store) DeleteJob(ctx context.Context, id, ownerID uuid.UUID) error {
	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteJob, id, ownerID).Scan(&deletedID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// InsertHistory appends one history entry. History is append-only; there
// is no update or delete path.
func (s *Store) InsertHistory(ctx context.Context, entry domain.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, queryInsertHistory,
		entry.ID,
		entry.JobID,
		entry.OwnerID,
		string(entry.JobType),
		string(entry.Status),
		entry.Detail,
		entry.ExecutedAt,
	)
	return err
}

// ListHistory returns the owner's history, most recent first, paginated
// by limit and offset.
func (s *Store) ListHistory(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListHistory, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var jobType, status string

		err := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&entry.OwnerID,
			&jobType,
			&status,
			&entry.Detail,
			&entry.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.JobType = domain.JobType(jobType)
		entry.Status = domain.JobStatus(status)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// EnqueueEntry adds a pending queue entry.
func (s *Store) EnqueueEntry(ctx context.Context, entry queue.Entry) error {
	_, err := s.db.ExecContext(ctx, queryEnqueueEntry,
		entry.ID,
		entry.JobID,
		string(entry.JobType),
		entry.DueTime,
		time.Now().UTC(),
	)
	return err
}

// ClaimDue atomically claims up to limit due entries and returns them.
// SKIP LOCKED keeps concurrent pollers from claiming the same rows.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]queue.Entry, error) {
	rows, err := s.db.QueryContext(ctx, queryClaimDue, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []queue.Entry
	for rows.Next() {
		var entry queue.Entry
		var jobType string

		if err := rows.Scan(&entry.ID, &entry.JobID, &jobType, &entry.DueTime); err != nil {
			return nil, err
		}
		entry.JobType = domain.JobType(jobType)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// AckEntry removes a handled entry.
func (s *Store) AckEntry(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, queryAckEntry, entryID)
	return err
}

// CancelPending removes not-yet-claimed entries for a job and reports how
// many were removed.
func (s *Store) CancelPending(ctx context.Context, jobID uuid.UUID) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryCancelPending, jobID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RequeueStale flips claimed entries older than olderThan back to pending.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryRequeueStale, olderThan, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PendingCount returns the number of unclaimed entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryPendingCount).Scan(&count)
	return count, err
}

// CreateUser inserts a new account.
// Returns domain.ErrConflict if the email is already registered.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, queryInsertUser,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetUserByEmail returns the account registered under email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, queryGetUserByEmail, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var jobType, status string
	var resourceID uuid.NullUUID

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&jobType,
		&job.DueTime,
		&status,
		&job.Title,
		&job.NotifyTarget,
		&resourceID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if resourceID.Valid {
		id := resourceID.UUID
		job.ResourceID = &id
	}
	return job, nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// isDuplicateKeyError checks for a PostgreSQL unique violation.
// lib/pq surfaces code 23505; match the message as well in case the
// driver wraps it.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Compile-time interface assertions
var (
	_ queue.Store      = (*Store)(nil)
	_ executor.Store   = (*Store)(nil)
	_ scheduling.Store = (*Store)(nil)
)
