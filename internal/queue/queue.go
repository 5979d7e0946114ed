// Package queue is the durable deferred-execution queue.
//
// An entry is a weak reference to a job: id, type, and due time. Entries
// live in Postgres so they survive restarts. A polling loop claims entries
// whose due time has passed (at-or-after semantics, never early) and hands
// them to the executor across a bounded worker pool. Entries are acked only
// after the executor returns cleanly; claimed entries whose worker died are
// requeued by the reconcile pass, giving at-least-once delivery. The
// executor's own status re-check makes redelivery safe.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/domain"
)

// Entry is a queued reference to a job. It never carries job data beyond
// what is needed to dispatch: the job record store owns the job itself.
type Entry struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	JobType domain.JobType
	DueTime time.Time
}

// Store is the persistence contract for queue entries.
type Store interface {
	EnqueueEntry(ctx context.Context, entry Entry) error
	// ClaimDue atomically marks up to limit pending entries with
	// due_time <= now as claimed and returns them. Concurrent pollers
	// never receive the same entry.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	AckEntry(ctx context.Context, entryID uuid.UUID) error
	// CancelPending removes not-yet-claimed entries for a job.
	// Best-effort: already-claimed entries are untouched.
	CancelPending(ctx context.Context, jobID uuid.UUID) (int64, error)
	// RequeueStale flips claimed entries older than olderThan back to
	// pending so a crashed worker's entries are redelivered.
	RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int64, error)
	PendingCount(ctx context.Context) (int, error)
}

// Handler executes one due entry. Implemented by the executor.
type Handler interface {
	Execute(ctx context.Context, entry Entry) error
}

// MetricsSink records queue metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EntriesClaimed(count int)
	PendingDepthUpdate(depth int)
	StaleRequeued(count int)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

// Config holds queue poller configuration.
type Config struct {
	// PollInterval is how often due entries are claimed.
	PollInterval time.Duration

	// Workers bounds concurrent executor invocations.
	Workers int

	// BatchSize is the maximum entries claimed per poll.
	BatchSize int

	// StaleClaimAfter is the age after which a claimed entry is assumed
	// orphaned and requeued. Must exceed the longest expected execution.
	StaleClaimAfter time.Duration

	// ReconcileInterval is how often stale claims are swept.
	ReconcileInterval time.Duration
}

// Queue polls the store for due entries and dispatches them.
type Queue struct {
	config        Config
	store         Store
	handler       Handler
	clock         func() time.Time
	log           zerolog.Logger
	metrics       MetricsSink // optional, nil = disabled
	reconcileGate func() bool
}

func New(config Config, store Store, handler Handler, log zerolog.Logger) *Queue {
	return &Queue{
		config:        config,
		store:         store,
		handler:       handler,
		clock:         time.Now,
		log:           log.With().Str("component", "queue").Logger(),
		reconcileGate: func() bool { return true },
	}
}

// WithMetrics attaches a metrics sink to the queue.
func (q *Queue) WithMetrics(sink MetricsSink) *Queue {
	q.metrics = sink
	return q
}

// WithReconcileGate restricts the stale-claim sweep to ticks where gate
// returns true. Used with leader election so that only one process of a
// worker fleet runs the sweep; claim polling is unaffected.
func (q *Queue) WithReconcileGate(gate func() bool) *Queue {
	q.reconcileGate = gate
	return q
}

// Enqueue schedules a future executor invocation for the job. The entry
// becomes claimable once dueTime has passed, never before.
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID, jobType domain.JobType, dueTime time.Time) error {
	entry := Entry{
		ID:      uuid.New(),
		JobID:   jobID,
		JobType: jobType,
		DueTime: dueTime.UTC(),
	}
	if err := q.store.EnqueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	q.log.Debug().
		Str("job_id", jobID.String()).
		Str("job_type", string(jobType)).
		Time("due_time", entry.DueTime).
		Msg("entry enqueued")
	return nil
}

// Cancel removes pending entries for a job. If the entry was already
// claimed this has no effect; the executor's status re-check handles it.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	removed, err := q.store.CancelPending(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel entries for job %s: %w", jobID, err)
	}
	q.log.Debug().
		Str("job_id", jobID.String()).
		Int64("removed", removed).
		Msg("pending entries cancelled")
	return nil
}

// Run polls for due entries until ctx is cancelled, then waits for
// in-flight executions to finish.
func (q *Queue) Run(ctx context.Context) {
	poll := time.NewTicker(q.config.PollInterval)
	defer poll.Stop()
	reconcile := time.NewTicker(q.config.ReconcileInterval)
	defer reconcile.Stop()

	q.log.Info().
		Dur("poll_interval", q.config.PollInterval).
		Int("workers", q.config.Workers).
		Int("batch", q.config.BatchSize).
		Msg("queue started")

	sem := make(chan struct{}, q.config.Workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			q.log.Info().Msg("queue stopped")
			return
		case <-poll.C:
			q.pollOnce(ctx, sem, &wg)
		case <-reconcile.C:
			q.reconcile(ctx)
		}
	}
}

func (q *Queue) pollOnce(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	now := q.clock().UTC()

	entries, err := q.store.ClaimDue(ctx, now, q.config.BatchSize)
	if err != nil {
		q.log.Error().Err(err).Msg("claim failed")
		return
	}
	if len(entries) == 0 {
		return
	}

	if q.metrics != nil {
		q.metrics.EntriesClaimed(len(entries))
	}

	for _, entry := range entries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Shutdown mid-batch: unclaimed work is requeued by the
			// stale-claim sweep on the next run.
			return
		}

		wg.Add(1)
		go func(entry Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			// Detached from the poll loop's cancellation: a graceful
			// shutdown must let claimed work finish its status and
			// history writes, not fail them mid-flight. Run still waits
			// for these goroutines before returning.
			q.dispatch(context.WithoutCancel(ctx), entry)
		}(entry)
	}
}

func (q *Queue) dispatch(ctx context.Context, entry Entry) {
	if q.metrics != nil {
		q.metrics.ExecutionsInFlightIncr()
		defer q.metrics.ExecutionsInFlightDecr()
	}

	if err := q.handler.Execute(ctx, entry); err != nil {
		// Leave the entry claimed: the reconcile pass will requeue it
		// once it goes stale, and the executor's status re-check makes
		// the redelivery safe.
		q.log.Error().
			Err(err).
			Str("job_id", entry.JobID.String()).
			Str("job_type", string(entry.JobType)).
			Msg("execution failed, entry left for redelivery")
		return
	}

	if err := q.store.AckEntry(ctx, entry.ID); err != nil {
		q.log.Error().
			Err(err).
			Str("job_id", entry.JobID.String()).
			Msg("ack failed, entry may be redelivered")
	}
}

func (q *Queue) reconcile(ctx context.Context) {
	if !q.reconcileGate() {
		return
	}

	now := q.clock().UTC()

	requeued, err := q.store.RequeueStale(ctx, now.Add(-q.config.StaleClaimAfter), q.config.BatchSize)
	if err != nil {
		q.log.Error().Err(err).Msg("stale requeue failed")
	} else if requeued > 0 {
		q.log.Warn().Int64("requeued", requeued).Msg("requeued stale claims")
		if q.metrics != nil {
			q.metrics.StaleRequeued(int(requeued))
		}
	}

	if q.metrics != nil {
		depth, err := q.store.PendingCount(ctx)
		if err == nil {
			q.metrics.PendingDepthUpdate(depth)
		}
	}
}
