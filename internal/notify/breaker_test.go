package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskvault/internal/circuitbreaker"
)

// stubNotifier returns a settable error; flip err between calls to
// drive the breaker through its states.
type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Send(ctx context.Context, msg Message) error {
	s.calls++
	return s.err
}

func testMessage(target string) Message {
	return Message{
		Kind:   KindScheduled,
		Target: target,
		JobID:  uuid.New(),
		Title:  "standup reminder",
	}
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	inner := &stubNotifier{}
	b := NewBreaker(inner, zerolog.Nop())

	if err := b.Send(context.Background(), testMessage("ops@example.com")); err != nil {
		t.Fatalf("Send() = %v, want nil", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubNotifier{err: errors.New("smtp down")}
	b := NewBreaker(inner, zerolog.Nop())

	for i := 0; i < breakerThreshold; i++ {
		if err := b.Send(context.Background(), testMessage("ops@example.com")); err == nil {
			t.Fatalf("Send() attempt %d = nil, want error", i+1)
		}
	}

	err := b.Send(context.Background(), testMessage("ops@example.com"))
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("Send() after threshold = %v, want ErrOpen", err)
	}
	if inner.calls != breakerThreshold {
		t.Fatalf("inner calls = %d, want %d (open circuit must not reach transport)", inner.calls, breakerThreshold)
	}
}

func TestBreaker_OtherTargetsUnaffected(t *testing.T) {
	inner := &stubNotifier{err: errors.New("smtp down")}
	b := NewBreaker(inner, zerolog.Nop())

	for i := 0; i < breakerThreshold; i++ {
		b.Send(context.Background(), testMessage("dead@example.com"))
	}

	inner.err = nil
	if err := b.Send(context.Background(), testMessage("alive@example.com")); err != nil {
		t.Fatalf("Send() to healthy target = %v, want nil", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	inner := &stubNotifier{err: errors.New("smtp down")}
	b := NewBreaker(inner, zerolog.Nop())

	for i := 0; i < breakerThreshold-1; i++ {
		b.Send(context.Background(), testMessage("ops@example.com"))
	}

	inner.err = nil
	if err := b.Send(context.Background(), testMessage("ops@example.com")); err != nil {
		t.Fatalf("Send() = %v, want nil", err)
	}

	inner.err = errors.New("smtp down")
	if err := b.Send(context.Background(), testMessage("ops@example.com")); errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatal("circuit opened despite intervening success")
	}
}
