// Package executor runs due jobs.
//
// The queue delivers at-least-once, so the entry point re-reads the job
// and refuses to touch anything that is not still scheduled. That single
// check is what makes duplicate delivery and cancellation races safe.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/domain"
	"taskvault/internal/filestore"
	"taskvault/internal/notify"
	"taskvault/internal/queue"
)

// Store is the job persistence the executor needs.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	// UpdateJobStatus must reject transitions out of terminal states with
	// domain.ErrStatusTransitionDenied. This guards replay.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error
	InsertHistory(ctx context.Context, entry domain.HistoryEntry) error
}

// FileStore is the slice of file storage the cleanup handler needs.
type FileStore interface {
	ListFiles() ([]filestore.StoredFile, error)
	Remove(path string) error
}

// AnalyticsSink records per-owner execution counts.
// Best-effort: errors are handled by the sink, never by the executor.
type AnalyticsSink interface {
	RecordExecution(ctx context.Context, ownerID uuid.UUID, jobType domain.JobType, outcome string)
}

// MetricsSink records executor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionOutcome(jobType, outcome string)
	ExecutionLatencyObserve(latencySeconds float64)
}

// Outcome labels for metrics and analytics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Executor performs a job's side effect when the queue delivers it.
type Executor struct {
	store     Store
	files     FileStore
	notifier  notify.Notifier
	retention time.Duration
	clock     func() time.Time
	log       zerolog.Logger
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func New(store Store, files FileStore, notifier notify.Notifier, retention time.Duration) *Executor {
	return &Executor{
		store:     store,
		files:     files,
		notifier:  notifier,
		retention: retention,
		clock:     time.Now,
		log:       zerolog.Nop(),
	}
}

// WithLogger attaches a logger to the executor.
func (e *Executor) WithLogger(log zerolog.Logger) *Executor {
	e.log = log.With().Str("component", "executor").Logger()
	return e
}

// WithAnalytics attaches an analytics sink to the executor.
func (e *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	e.analytics = sink
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// Execute is the queue's entry point for one due entry.
//
// A nil return means the entry is handled and may be acked; that includes
// jobs that ended FAILED, since failure is recorded on the job itself. An
// error return means the executor could not even reach the job record, and
// the entry should be redelivered later.
func (e *Executor) Execute(ctx context.Context, entry queue.Entry) error {
	start := e.clock()

	job, err := e.store.GetJob(ctx, entry.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job deleted after enqueue. Nothing to do.
			e.log.Warn().Str("job_id", entry.JobID.String()).Msg("job gone, skipping entry")
			return nil
		}
		return fmt.Errorf("load job %s: %w", entry.JobID, err)
	}

	// Sole replay/cancellation guard: only a scheduled job may run.
	if job.Status != domain.JobStatusScheduled {
		e.log.Info().
			Str("job_id", job.ID.String()).
			Str("status", string(job.Status)).
			Msg("job not scheduled, skipping")
		e.recordOutcome(ctx, job, OutcomeSkipped)
		return nil
	}

	if err := e.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
		if errors.Is(err, domain.ErrStatusTransitionDenied) {
			// Lost the race against a concurrent delivery or cancel.
			e.log.Info().Str("job_id", job.ID.String()).Msg("lost status race, skipping")
			e.recordOutcome(ctx, job, OutcomeSkipped)
			return nil
		}
		return fmt.Errorf("mark job %s running: %w", job.ID, err)
	}

	detail, execErr := e.runJob(ctx, job)
	if execErr != nil {
		e.markFailed(ctx, job, execErr)
		e.recordOutcome(ctx, job, OutcomeFailed)
		e.observeLatency(start)
		return nil
	}

	if err := e.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		// Side effect already happened; a redelivery would no-op on the
		// RUNNING status, so record what we can and move on.
		e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job completed")
	}

	e.writeHistory(ctx, job, domain.JobStatusCompleted, detail)

	if job.Type == domain.JobTypeFileCleanup && job.NotifyTarget != "" {
		e.sendNotification(ctx, job, notify.KindCompleted, detail)
	}

	e.log.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Str("detail", detail).
		Msg("job completed")
	e.recordOutcome(ctx, job, OutcomeCompleted)
	e.observeLatency(start)
	return nil
}

func (e *Executor) runJob(ctx context.Context, job domain.Job) (detail string, err error) {
	switch job.Type {
	case domain.JobTypeFileCleanup:
		return e.runCleanup(ctx, job)
	case domain.JobTypeReminder:
		return e.runReminder(ctx, job)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
}

// runCleanup deletes files older than the retention threshold. Individual
// deletion errors (already removed, permission) are non-fatal; only a
// failure to list the storage location aborts the job.
func (e *Executor) runCleanup(ctx context.Context, job domain.Job) (string, error) {
	files, err := e.files.ListFiles()
	if err != nil {
		return "", fmt.Errorf("list files: %w", err)
	}

	threshold := e.clock().Add(-e.retention)
	deleted := 0

	for _, f := range files {
		if !f.ModTime.Before(threshold) {
			continue
		}
		if err := e.files.Remove(f.Path); err != nil {
			e.log.Warn().Err(err).Str("file", f.Name).Msg("could not delete file")
			continue
		}
		deleted++
	}

	detail := fmt.Sprintf("Deleted %d files", deleted)
	if job.NotifyTarget != "" {
		detail += ", notified " + job.NotifyTarget
	} else {
		detail += ", no notification sent"
	}
	return detail, nil
}

// runReminder sends the reminder itself. With no target the job still
// completes; there is simply nothing to deliver.
func (e *Executor) runReminder(ctx context.Context, job domain.Job) (string, error) {
	if job.NotifyTarget == "" {
		e.log.Warn().Str("job_id", job.ID.String()).Msg("reminder has no target, nothing sent")
		return "Reminder recorded, no notification target", nil
	}

	msg := notify.Message{
		Kind:   notify.KindReminder,
		Target: job.NotifyTarget,
		JobID:  job.ID,
		Title:  job.Title,
		Detail: fmt.Sprintf("This is a reminder for %q, scheduled for %s.", job.Title, job.DueTime.UTC().Format(time.RFC3339)),
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("send reminder: %w", err)
	}
	return "Reminder sent to " + job.NotifyTarget, nil
}

// markFailed records a failed execution. Every step is best-effort: a
// store write failing here is logged and swallowed rather than crashing
// the worker.
func (e *Executor) markFailed(ctx context.Context, job domain.Job, execErr error) {
	e.log.Error().
		Err(execErr).
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Msg("job execution failed")

	if err := e.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to update status after failure")
	}

	e.writeHistory(ctx, job, domain.JobStatusFailed, execErr.Error())

	if job.NotifyTarget != "" {
		e.sendNotification(ctx, job, notify.KindFailed, execErr.Error())
	}
}

func (e *Executor) writeHistory(ctx context.Context, job domain.Job, status domain.JobStatus, detail string) {
	entry := domain.HistoryEntry{
		ID:         uuid.New(),
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		JobType:    job.Type,
		Status:     status,
		Detail:     detail,
		ExecutedAt: e.clock().UTC(),
	}
	if err := e.store.InsertHistory(ctx, entry); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to record history")
	}
}

// sendNotification delivers best-effort: the notifier retries internally,
// and exhaustion never changes the job's status.
func (e *Executor) sendNotification(ctx context.Context, job domain.Job, kind notify.Kind, detail string) {
	msg := notify.Message{
		Kind:   kind,
		Target: job.NotifyTarget,
		JobID:  job.ID,
		Title:  job.Title,
		Detail: detail,
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.log.Error().
			Err(err).
			Str("job_id", job.ID.String()).
			Str("kind", string(kind)).
			Msg("notification delivery exhausted retries")
	}
}

func (e *Executor) recordOutcome(ctx context.Context, job domain.Job, outcome string) {
	if e.metrics != nil {
		e.metrics.ExecutionOutcome(string(job.Type), outcome)
	}
	if e.analytics != nil {
		e.analytics.RecordExecution(ctx, job.OwnerID, job.Type, outcome)
	}
}

func (e *Executor) observeLatency(start time.Time) {
	if e.metrics != nil {
		e.metrics.ExecutionLatencyObserve(e.clock().Sub(start).Seconds())
	}
}

var _ queue.Handler = (*Executor)(nil)
