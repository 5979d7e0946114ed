package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var defaultBackoff = []time.Duration{
	0,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

const maxAttempts = 4

// MetricsSink records notification delivery metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	NotificationAttemptCompleted(attempt int, outcome string, duration time.Duration)
	NotificationOutcome(outcome string)
}

// Retrier wraps a Notifier with bounded retries, backoff, and a per-attempt
// timeout. Delivery errors are treated as transient: every failed attempt is
// retried until the attempt budget is exhausted.
type Retrier struct {
	next    Notifier
	backoff []time.Duration
	timeout time.Duration
	log     zerolog.Logger
	metrics MetricsSink // optional, nil = disabled
}

func NewRetrier(next Notifier, timeout time.Duration, log zerolog.Logger) *Retrier {
	return &Retrier{
		next:    next,
		backoff: defaultBackoff,
		timeout: timeout,
		log:     log,
	}
}

// WithMetrics attaches a metrics sink to the retrier.
func (r *Retrier) WithMetrics(sink MetricsSink) *Retrier {
	r.metrics = sink
	return r
}

func (r *Retrier) Send(ctx context.Context, msg Message) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			idx := attempt - 1
			if idx >= len(r.backoff) {
				idx = len(r.backoff) - 1
			}
			backoff := r.backoff[idx]

			r.log.Debug().
				Str("job_id", msg.JobID.String()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying notification")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		start := time.Now()
		err := r.sendOnce(ctx, msg)
		duration := time.Since(start)

		if r.metrics != nil {
			outcome := OutcomeSuccess
			if err != nil {
				outcome = OutcomeFailed
			}
			r.metrics.NotificationAttemptCompleted(attempt, outcome, duration)
		}

		if err == nil {
			if r.metrics != nil {
				r.metrics.NotificationOutcome(OutcomeSuccess)
			}
			return nil
		}
		lastErr = err

		r.log.Warn().
			Err(err).
			Str("job_id", msg.JobID.String()).
			Int("attempt", attempt).
			Msg("notification attempt failed")
	}

	if r.metrics != nil {
		r.metrics.NotificationOutcome(OutcomeFailed)
	}
	return fmt.Errorf("notification failed after %d attempts: %w", maxAttempts, lastErr)
}

func (r *Retrier) sendOnce(ctx context.Context, msg Message) error {
	attemptCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Send(attemptCtx, msg)
}

// Outcome constants reported to the metrics sink.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
