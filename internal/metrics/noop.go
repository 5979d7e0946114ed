package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EntriesClaimed(count int)                                                  {}
func (n *NoopSink) PendingDepthUpdate(depth int)                                              {}
func (n *NoopSink) StaleRequeued(count int)                                                   {}
func (n *NoopSink) ExecutionsInFlightIncr()                                                   {}
func (n *NoopSink) ExecutionsInFlightDecr()                                                   {}
func (n *NoopSink) ExecutionOutcome(jobType, outcome string)                                  {}
func (n *NoopSink) ExecutionLatencyObserve(latencySeconds float64)                            {}
func (n *NoopSink) NotificationAttemptCompleted(attempt int, outcome string, d time.Duration) {}
func (n *NoopSink) NotificationOutcome(outcome string)                                        {}
func (n *NoopSink) RequestCompleted(method, route string, status int, d time.Duration)        {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}

var _ Sink = (*NoopSink)(nil)
