// Package notify delivers job notifications over email and Discord.
//
// The executor and scheduling API talk to the Notifier interface only;
// transports are wired in main. Transient delivery failures are retried
// here, never by the caller.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind classifies a notification message.
type Kind string

// KindScheduled confirms a task was accepted for a future run;
// KindReminder is the due-time delivery of a reminder task.
const (
	KindScheduled Kind = "scheduled"
	KindReminder  Kind = "reminder"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Message is one outbound notification.
type Message struct {
	Kind   Kind
	Target string
	JobID  uuid.UUID
	Title  string
	Detail string
}

// Notifier sends a notification message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Fanout sends each message to every configured notifier. A failure in one
// transport does not stop the others; errors are joined.
type Fanout struct {
	notifiers []Notifier
}

func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards messages, logging each at debug level. Used when no
// transport is configured so callers never need a nil check.
type Noop struct {
	log zerolog.Logger
}

func NewNoop(log zerolog.Logger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Send(ctx context.Context, msg Message) error {
	n.log.Debug().
		Str("kind", string(msg.Kind)).
		Str("target", msg.Target).
		Str("job_id", msg.JobID.String()).
		Msg("notification discarded: no transport configured")
	return nil
}
