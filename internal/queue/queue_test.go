package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/domain"
	"taskvault/internal/testutil"
)

// memStore is an in-memory queue store with claim/ack bookkeeping.
type memStore struct {
	mu           sync.Mutex
	pending      map[uuid.UUID]Entry
	claimed      map[uuid.UUID]Entry
	acked        []uuid.UUID
	claimErr     error
	requeueCalls int
}

func newMemStore() *memStore {
	return &memStore{
		pending: make(map[uuid.UUID]Entry),
		claimed: make(map[uuid.UUID]Entry),
	}
}

func (s *memStore) EnqueueEntry(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[entry.ID] = entry
	return nil
}

func (s *memStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var due []Entry
	for id, entry := range s.pending {
		if len(due) >= limit {
			break
		}
		if !entry.DueTime.After(now) {
			due = append(due, entry)
			s.claimed[id] = entry
			delete(s.pending, id)
		}
	}
	return due, nil
}

func (s *memStore) AckEntry(ctx context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, entryID)
	s.acked = append(s.acked, entryID)
	return nil
}

func (s *memStore) CancelPending(ctx context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, entry := range s.pending {
		if entry.JobID == jobID {
			delete(s.pending, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeueCalls++
	return 0, nil
}

func (s *memStore) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

func (s *memStore) counts() (pending, claimed, acked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.claimed), len(s.acked)
}

// recordingHandler collects executed entries.
type recordingHandler struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	done    chan struct{}
}

func (h *recordingHandler) Execute(ctx context.Context, entry Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- struct{}{}
	}
	return h.err
}

func (h *recordingHandler) executed() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

func testConfig() Config {
	return Config{
		PollInterval:      5 * time.Millisecond,
		Workers:           2,
		BatchSize:         10,
		StaleClaimAfter:   time.Minute,
		ReconcileInterval: time.Hour,
	}
}

func TestQueue_DispatchesDueEntry(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{done: make(chan struct{}, 1)}
	q := New(testConfig(), store, handler, zerolog.Nop())

	jobID := uuid.New()
	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, jobID, domain.JobTypeReminder, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not dispatched")
	}
	cancel()

	executed := handler.executed()
	if len(executed) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(executed))
	}
	if executed[0].JobID != jobID {
		t.Errorf("executed wrong job: %s", executed[0].JobID)
	}
}

func TestQueue_DoesNotDispatchFutureEntry(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, uuid.New(), domain.JobTypeReminder, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if got := handler.executed(); len(got) != 0 {
		t.Errorf("future entry should not run early, got %d executions", len(got))
	}
}

func TestQueue_AcksOnSuccess(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{done: make(chan struct{}, 1)}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, uuid.New(), domain.JobTypeFileCleanup, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)
	<-handler.done

	// Give the ack a moment to land after Execute returns.
	deadline := time.Now().Add(time.Second)
	for {
		_, claimed, acked := store.counts()
		if claimed == 0 && acked == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry not acked: claimed=%d acked=%d", claimed, acked)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueue_LeavesEntryClaimedOnHandlerError(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{err: errors.New("store unreachable"), done: make(chan struct{}, 1)}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, uuid.New(), domain.JobTypeReminder, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)
	<-handler.done
	time.Sleep(20 * time.Millisecond)
	cancel()

	_, claimed, acked := store.counts()
	if claimed != 1 {
		t.Errorf("entry should stay claimed for redelivery, claimed=%d", claimed)
	}
	if acked != 0 {
		t.Errorf("failed execution must not ack, acked=%d", acked)
	}
}

func TestQueue_CancelRemovesPending(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx := testutil.TestContext(t)
	jobID := uuid.New()

	if err := q.Enqueue(ctx, jobID, domain.JobTypeReminder, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	pending, _, _ := store.counts()
	if pending != 0 {
		t.Errorf("expected no pending entries after cancel, got %d", pending)
	}
}

// blockingHandler holds an execution open until released, recording the
// context state it finished with.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (h *blockingHandler) Execute(ctx context.Context, entry Entry) error {
	close(h.started)
	<-h.release
	h.ctxErr = ctx.Err()
	return nil
}

func TestQueue_ShutdownDoesNotCancelInFlight(t *testing.T) {
	store := newMemStore()
	handler := &blockingHandler{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, uuid.New(), domain.JobTypeReminder, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(runDone)
	}()

	<-handler.started

	// Shut down while the execution is still in flight, then let it finish.
	cancel()
	close(handler.release)

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not drain the in-flight execution")
	}

	if handler.ctxErr != nil {
		t.Errorf("in-flight execution saw cancelled context: %v", handler.ctxErr)
	}

	_, claimed, acked := store.counts()
	if claimed != 0 || acked != 1 {
		t.Errorf("drained execution not acked: claimed=%d acked=%d", claimed, acked)
	}
}

func TestQueue_ReconcileGateSkipsSweep(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{}

	cfg := testConfig()
	cfg.ReconcileInterval = 5 * time.Millisecond

	q := New(cfg, store, handler, zerolog.Nop()).
		WithReconcileGate(func() bool { return false })

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	go q.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	store.mu.Lock()
	calls := store.requeueCalls
	store.mu.Unlock()
	if calls != 0 {
		t.Errorf("gated queue must not sweep stale claims, got %d sweeps", calls)
	}
}

func TestQueue_ReconcileSweepsWhenGateOpen(t *testing.T) {
	store := newMemStore()
	handler := &recordingHandler{}

	cfg := testConfig()
	cfg.ReconcileInterval = 5 * time.Millisecond

	q := New(cfg, store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	go q.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		calls := store.requeueCalls
		store.mu.Unlock()
		if calls > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reconcile sweep never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueue_ClaimErrorDoesNotStopPolling(t *testing.T) {
	store := newMemStore()
	store.claimErr = errors.New("db down")
	handler := &recordingHandler{done: make(chan struct{}, 1)}
	q := New(testConfig(), store, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	if err := q.Enqueue(ctx, uuid.New(), domain.JobTypeReminder, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)
	time.Sleep(30 * time.Millisecond)

	// Store recovers; the next poll should dispatch.
	store.mu.Lock()
	store.claimErr = nil
	store.mu.Unlock()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stopped polling after a claim error")
	}
}
