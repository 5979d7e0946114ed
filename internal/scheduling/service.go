// Package scheduling is the owner-facing surface for jobs: create,
// list, cancel, delete, and history. It owns validation and ownership
// scoping; execution itself belongs to the executor.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/domain"
	"taskvault/internal/notify"
)

// Store is the persistence the scheduling service needs.
type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJobForOwner(ctx context.Context, id, ownerID uuid.UUID) (domain.Job, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error
	DeleteJob(ctx context.Context, id, ownerID uuid.UUID) error
	ListHistory(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.HistoryEntry, error)
}

// Queue is the deferred-execution queue the service schedules into.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, jobType domain.JobType, dueTime time.Time) error
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// FileStore removes uploaded resources when their job is deleted.
type FileStore interface {
	Delete(resourceID uuid.UUID) error
}

// DefaultPageSize bounds list responses when the caller gives no limit.
const DefaultPageSize = 50

// ScheduleRequest carries the owner's input for a new job.
type ScheduleRequest struct {
	Type         domain.JobType
	DueTime      time.Time
	Title        string
	NotifyTarget string
	ResourceID   *uuid.UUID
}

// Service implements the scheduling operations.
type Service struct {
	store    Store
	queue    Queue
	files    FileStore
	notifier notify.Notifier
	clock    func() time.Time
	log      zerolog.Logger
}

func New(store Store, queue Queue, files FileStore, notifier notify.Notifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		queue:    queue,
		files:    files,
		notifier: notifier,
		clock:    time.Now,
		log:      log.With().Str("component", "scheduling").Logger(),
	}
}

// Schedule validates the request, persists the job, and enqueues it.
// The job is visible in lists the moment this returns.
func (s *Service) Schedule(ctx context.Context, ownerID uuid.UUID, req ScheduleRequest) (domain.Job, error) {
	if !domain.ValidJobType(req.Type) {
		return domain.Job{}, &domain.ValidationError{Field: "task_type", Message: fmt.Sprintf("unknown task type %q", req.Type)}
	}

	now := s.clock().UTC()
	if req.DueTime.IsZero() {
		return domain.Job{}, &domain.ValidationError{Field: "run_date", Message: "run date is required"}
	}
	if !req.DueTime.After(now) {
		return domain.Job{}, &domain.ValidationError{Field: "run_date", Message: "run date must be in the future"}
	}

	title := req.Title
	if title == "" {
		title = domain.DefaultTitle
	}

	job := domain.Job{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Type:         req.Type,
		DueTime:      req.DueTime.UTC(),
		Status:       domain.JobStatusScheduled,
		Title:        title,
		NotifyTarget: req.NotifyTarget,
		ResourceID:   req.ResourceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID, job.Type, job.DueTime); err != nil {
		// The job exists but will never fire. Surface the error rather
		// than leaving the caller believing it is scheduled.
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Info().
		Str("job_id", job.ID.String()).
		Str("owner_id", ownerID.String()).
		Str("job_type", string(job.Type)).
		Time("due_time", job.DueTime).
		Msg("job scheduled")

	s.confirmScheduled(job)
	return job, nil
}

// confirmScheduled sends the scheduling confirmation off the request
// path. Delivery failures never affect the job.
func (s *Service) confirmScheduled(job domain.Job) {
	if job.NotifyTarget == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		msg := notify.Message{
			Kind:   notify.KindScheduled,
			Target: job.NotifyTarget,
			JobID:  job.ID,
			Title:  job.Title,
			Detail: fmt.Sprintf("Task %q scheduled for %s.", job.Title, job.DueTime.Format(time.RFC3339)),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("scheduling confirmation not delivered")
		}
	}()
}

// Get returns one of the owner's jobs.
func (s *Service) Get(ctx context.Context, ownerID, jobID uuid.UUID) (domain.Job, error) {
	return s.store.GetJobForOwner(ctx, jobID, ownerID)
}

// List returns the owner's jobs ordered by due time.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListJobs(ctx, ownerID, limit, offset)
}

// Cancel moves a scheduled job to cancelled and removes its pending
// queue entries. A job already past the point of no return (running or
// terminal) returns domain.ErrConflict.
func (s *Service) Cancel(ctx context.Context, ownerID, jobID uuid.UUID) error {
	job, err := s.store.GetJobForOwner(ctx, jobID, ownerID)
	if err != nil {
		return err
	}

	if job.Status != domain.JobStatusScheduled {
		return domain.ErrConflict
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, domain.JobStatusCancelled); err != nil {
		if errors.Is(err, domain.ErrStatusTransitionDenied) {
			// Raced the executor or another cancel.
			return domain.ErrConflict
		}
		return fmt.Errorf("cancel job: %w", err)
	}

	// Entry removal is best-effort. A claimed entry slips through here,
	// and the executor's status re-check stops it.
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID.String()).Msg("queue entries not removed on cancel")
	}

	s.log.Info().
		Str("job_id", jobID.String()).
		Str("owner_id", ownerID.String()).
		Msg("job cancelled")
	return nil
}

// Delete removes a job record entirely, along with its queue entries and
// any uploaded resource. History is kept.
func (s *Service) Delete(ctx context.Context, ownerID, jobID uuid.UUID) error {
	job, err := s.store.GetJobForOwner(ctx, jobID, ownerID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteJob(ctx, jobID, ownerID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	if job.ResourceID != nil && s.files != nil {
		if err := s.files.Delete(*job.ResourceID); err != nil {
			s.log.Warn().
				Err(err).
				Str("job_id", jobID.String()).
				Str("resource_id", job.ResourceID.String()).
				Msg("resource not removed with job")
		}
	}

	s.log.Info().
		Str("job_id", jobID.String()).
		Str("owner_id", ownerID.String()).
		Msg("job deleted")
	return nil
}

// History returns the owner's execution history, most recent first.
func (s *Service) History(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListHistory(ctx, ownerID, limit, offset)
}
