package metrics

import (
	"time"

	"taskvault/internal/executor"
	"taskvault/internal/leaderelection"
	"taskvault/internal/notify"
	"taskvault/internal/queue"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Queue metrics
	EntriesClaimed(count int)
	PendingDepthUpdate(depth int)
	StaleRequeued(count int)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Executor metrics
	ExecutionOutcome(jobType, outcome string)
	ExecutionLatencyObserve(latencySeconds float64)

	// Notification metrics
	NotificationAttemptCompleted(attempt int, outcome string, duration time.Duration)
	NotificationOutcome(outcome string)

	// HTTP metrics
	RequestCompleted(method, route string, status int, duration time.Duration)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Every sink serves the queue, executor, notifier, and elector contracts.
var (
	_ queue.MetricsSink          = (Sink)(nil)
	_ executor.MetricsSink       = (Sink)(nil)
	_ notify.MetricsSink         = (Sink)(nil)
	_ leaderelection.MetricsSink = (Sink)(nil)
)
