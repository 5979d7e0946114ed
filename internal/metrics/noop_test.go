package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Queue metrics
	s.EntriesClaimed(5)
	s.PendingDepthUpdate(10)
	s.StaleRequeued(2)
	s.ExecutionsInFlightIncr()
	s.ExecutionsInFlightDecr()

	// Executor metrics
	s.ExecutionOutcome("reminder", "completed")
	s.ExecutionLatencyObserve(1.5)

	// Notification metrics
	s.NotificationAttemptCompleted(1, "success", 200*time.Millisecond)
	s.NotificationOutcome("failed")

	// HTTP metrics
	s.RequestCompleted("GET", "/tasks/list_tasks", 200, 10*time.Millisecond)

	// Leader election metrics
	s.LeaderStatusChanged(true)
	s.LeaderLost("conn_lost")
}
