// Package leaderelection elects a single reconcile leader across worker
// processes using a Postgres advisory lock.
//
// The lock is session-scoped and held for the lifetime of a dedicated
// database connection; there is no renewal or TTL. If the connection dies,
// Postgres releases the lock server-side. The heartbeat ping only detects
// local connection death so the leader can step down promptly; it does not
// renew anything.
//
// Every process runs the claim poller regardless of leadership. Only the
// stale-claim sweep needs a single runner, so duplicate requeues from
// concurrent sweeps never happen.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// MetricsSink records leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Elector competes for a Postgres advisory lock and reports leadership
// through the onElected and onDemoted callbacks.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func()
	onDemoted         func()
	log               zerolog.Logger
	metrics           MetricsSink // optional, nil = disabled
}

// New creates an Elector. onElected is called when this process acquires
// the lock, onDemoted when it loses it. Both must be fast and idempotent.
func New(db *sql.DB, lockKey int64, retryInterval, heartbeatInterval time.Duration, onElected, onDemoted func(), log zerolog.Logger) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		log:               log.With().Str("component", "leader").Logger(),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run competes for the lock until ctx is cancelled. It blocks.
func (e *Elector) Run(ctx context.Context) {
	e.log.Info().
		Int64("lock_key", e.lockKey).
		Dur("retry_interval", e.retryInterval).
		Dur("heartbeat_interval", e.heartbeatInterval).
		Msg("election loop started")

	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.log.Info().Msg("election loop stopped")
			return
		}

		if reason != "" {
			e.log.Warn().Str("reason", reason).Dur("retry_in", e.retryInterval).Msg("leadership lost")
		}

		select {
		case <-ctx.Done():
			e.log.Info().Msg("election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it. Returns the
// reason leadership was lost, or "" if the lock was never acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory locks are session-scoped, so a dedicated connection is
	// required; the pool must not recycle it while we hold the lock.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("dedicated connection unavailable")
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired)
	if err != nil {
		e.log.Error().Err(err).Msg("advisory lock query failed")
		return ""
	}
	if !acquired {
		e.log.Debug().Int64("lock_key", e.lockKey).Msg("lock held elsewhere")
		return ""
	}

	e.log.Info().Int64("lock_key", e.lockKey).Msg("leadership acquired")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	e.onElected()
	reason := e.holdLock(ctx, conn)
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.log.Info().Int64("lock_key", e.lockKey).Msg("leadership released")
	return reason
}

// holdLock pings the dedicated connection until it dies or ctx is
// cancelled. Returns the reason the lock was given up.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.log.Error().Err(err).Msg("heartbeat ping failed")
				return "conn_lost"
			}
		}
	}
}
