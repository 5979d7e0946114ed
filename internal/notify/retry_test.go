package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// flakyNotifier fails a fixed number of times, then succeeds.
type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyNotifier) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetrier(next Notifier) *Retrier {
	r := NewRetrier(next, time.Second, zerolog.Nop())
	r.backoff = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	return r
}

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	inner := &flakyNotifier{}
	r := fastRetrier(inner)

	if err := r.Send(context.Background(), Message{JobID: uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", inner.callCount())
	}
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	inner := &flakyNotifier{failures: 2}
	r := fastRetrier(inner)

	if err := r.Send(context.Background(), Message{JobID: uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", inner.callCount())
	}
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	inner := &flakyNotifier{failures: 100}
	r := fastRetrier(inner)

	err := r.Send(context.Background(), Message{JobID: uuid.New()})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !strings.Contains(err.Error(), "after 4 attempts") {
		t.Errorf("error should mention attempt count, got %q", err)
	}
	if inner.callCount() != maxAttempts {
		t.Errorf("expected %d calls, got %d", maxAttempts, inner.callCount())
	}
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	inner := &flakyNotifier{failures: 100}
	r := NewRetrier(inner, time.Second, zerolog.Nop())
	r.backoff = []time.Duration{0, time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Send(ctx, Message{JobID: uuid.New()})
	}()

	// Let the first attempt fail, then cancel during the long backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}
}

// recordingSink captures metrics calls.
type recordingSink struct {
	mu       sync.Mutex
	attempts []string
	outcomes []string
}

func (s *recordingSink) NotificationAttemptCompleted(attempt int, outcome string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, outcome)
}

func (s *recordingSink) NotificationOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func TestRetrier_MetricsRecorded(t *testing.T) {
	inner := &flakyNotifier{failures: 1}
	sink := &recordingSink{}
	r := fastRetrier(inner).WithMetrics(sink)

	if err := r.Send(context.Background(), Message{JobID: uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.attempts) != 2 {
		t.Fatalf("expected 2 attempt records, got %d", len(sink.attempts))
	}
	if sink.attempts[0] != OutcomeFailed || sink.attempts[1] != OutcomeSuccess {
		t.Errorf("unexpected attempt outcomes %v", sink.attempts)
	}
	if len(sink.outcomes) != 1 || sink.outcomes[0] != OutcomeSuccess {
		t.Errorf("unexpected final outcomes %v", sink.outcomes)
	}
}

func TestFanout_AggregatesErrors(t *testing.T) {
	good := &flakyNotifier{}
	bad := &flakyNotifier{failures: 100}
	f := NewFanout(good, bad)

	err := f.Send(context.Background(), Message{JobID: uuid.New()})
	if err == nil {
		t.Fatal("expected error from failing notifier")
	}
	if good.callCount() != 1 {
		t.Error("healthy notifier should still be called")
	}
}
