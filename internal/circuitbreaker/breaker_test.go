package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New(threshold, cooldown)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.clock = func() time.Time { return now }
	return b, &now
}

func TestAllow_UnknownTarget(t *testing.T) {
	b, _ := newTestBreaker(3, 5*time.Second)
	if err := b.Allow("ops@example.com"); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
}

func TestAllow_BelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 5*time.Second)
	b.RecordFailure("ops@example.com")
	b.RecordFailure("ops@example.com")
	if err := b.Allow("ops@example.com"); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
}

func TestAllow_AtThresholdOpens(t *testing.T) {
	b, _ := newTestBreaker(3, 5*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure("ops@example.com")
	}
	if err := b.Allow("ops@example.com"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() = %v, want ErrOpen", err)
	}
}

func TestAllow_CooldownAdmitsOneProbe(t *testing.T) {
	b, now := newTestBreaker(3, 5*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure("ops@example.com")
	}

	*now = now.Add(6 * time.Second)

	if err := b.Allow("ops@example.com"); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	if err := b.Allow("ops@example.com"); !errors.Is(err, ErrOpen) {
		t.Fatalf("second Allow() = %v, want ErrOpen while probe in flight", err)
	}
}

func TestRecordSuccess_ClosesAfterProbe(t *testing.T) {
	b, now := newTestBreaker(3, 5*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure("ops@example.com")
	}

	*now = now.Add(6 * time.Second)
	b.Allow("ops@example.com")
	b.RecordSuccess("ops@example.com")

	if err := b.Allow("ops@example.com"); err != nil {
		t.Fatalf("Allow() after recovery = %v, want nil", err)
	}
}

func TestRecordFailure_ProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(3, 5*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure("ops@example.com")
	}

	*now = now.Add(6 * time.Second)
	b.Allow("ops@example.com")
	b.RecordFailure("ops@example.com")

	if err := b.Allow("ops@example.com"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() after probe failure = %v, want ErrOpen", err)
	}
}

func TestRecordSuccess_UnknownTargetNoOp(t *testing.T) {
	b, _ := newTestBreaker(3, 5*time.Second)
	b.RecordSuccess("ops@example.com")
	if err := b.Allow("ops@example.com"); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
}

func TestTargetsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(2, 5*time.Second)
	b.RecordFailure("a@example.com")
	b.RecordFailure("a@example.com")

	if err := b.Allow("a@example.com"); !errors.Is(err, ErrOpen) {
		t.Fatal("expected a@example.com circuit open")
	}
	if err := b.Allow("b@example.com"); err != nil {
		t.Fatalf("Allow(b) = %v, want nil", err)
	}
}
