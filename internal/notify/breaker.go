package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"taskvault/internal/circuitbreaker"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 2 * time.Minute
)

// Breaker wraps a Notifier with a per-target circuit breaker. Once a
// target has exhausted the breaker threshold of consecutive deliveries,
// further sends to it fail immediately instead of burning retry budget,
// until the cooldown admits a probe.
type Breaker struct {
	next    Notifier
	breaker *circuitbreaker.Breaker
	log     zerolog.Logger
}

func NewBreaker(next Notifier, log zerolog.Logger) *Breaker {
	return &Breaker{
		next:    next,
		breaker: circuitbreaker.New(breakerThreshold, breakerCooldown),
		log:     log,
	}
}

func (b *Breaker) Send(ctx context.Context, msg Message) error {
	if err := b.breaker.Allow(msg.Target); err != nil {
		b.log.Warn().
			Str("target", msg.Target).
			Str("job_id", msg.JobID.String()).
			Msg("notification dropped: target circuit open")
		return fmt.Errorf("send to %s: %w", msg.Target, err)
	}

	if err := b.next.Send(ctx, msg); err != nil {
		b.breaker.RecordFailure(msg.Target)
		return err
	}

	b.breaker.RecordSuccess(msg.Target)
	return nil
}
