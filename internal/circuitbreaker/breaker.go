// Package circuitbreaker tracks per-target delivery health and fails
// fast once a target keeps rejecting deliveries. Targets are independent:
// one dead mailbox or webhook never blocks the others.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit open for target")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type targetState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker is a per-target circuit breaker. After threshold consecutive
// failures a target's circuit opens; once cooldown has elapsed a single
// probe is let through (half-open) and its outcome decides whether the
// circuit closes again.
type Breaker struct {
	mu        sync.Mutex
	targets   map[string]*targetState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		targets:   make(map[string]*targetState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a delivery to target may proceed. In the open
// state it returns ErrOpen until the cooldown elapses; the first call
// after that transitions to half-open and is allowed as the probe.
func (b *Breaker) Allow(target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.targets[target]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		// Probe in flight; hold further deliveries until it resolves.
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes the target's circuit and clears its failure count.
func (b *Breaker) RecordSuccess(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.targets[target]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

// RecordFailure counts a failed delivery. Reaching the threshold, or
// failing the half-open probe, opens the circuit.
func (b *Breaker) RecordFailure(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.targets[target]
	if !ok {
		s = &targetState{}
		b.targets[target] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold || s.state == stateHalfOpen {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}
