package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Queue metrics
	entriesClaimedTotal prometheus.Counter
	pendingDepth        prometheus.Gauge
	staleRequeuedTotal  prometheus.Counter
	executionsInFlight  prometheus.Gauge

	// Executor metrics
	executionOutcomesTotal *prometheus.CounterVec
	executionDuration      prometheus.Histogram

	// Notification metrics
	notificationAttemptsTotal *prometheus.CounterVec
	notificationOutcomesTotal *prometheus.CounterVec
	notificationDuration      prometheus.Histogram

	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Leader election metrics
	leaderStatus    prometheus.Gauge
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initQueueMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initNotificationMetrics(reg)
	s.initHTTPMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.entriesClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskvault_queue_entries_claimed_total",
		Help: "Total number of queue entries claimed for execution.",
	})
	s.pendingDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskvault_queue_pending_depth",
		Help: "Number of queue entries waiting to become due.",
	})
	s.staleRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskvault_queue_stale_requeued_total",
		Help: "Total number of stale claimed entries returned to pending.",
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskvault_queue_executions_in_flight",
		Help: "Number of jobs currently executing.",
	})

	s.register(reg, s.entriesClaimedTotal, "taskvault_queue_entries_claimed_total")
	s.register(reg, s.pendingDepth, "taskvault_queue_pending_depth")
	s.register(reg, s.staleRequeuedTotal, "taskvault_queue_stale_requeued_total")
	s.register(reg, s.executionsInFlight, "taskvault_queue_executions_in_flight")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.executionOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskvault_executor_outcomes_total",
		Help: "Total number of job executions by type and outcome.",
	}, []string{"job_type", "outcome"})

	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskvault_executor_duration_seconds",
		Help:    "Job execution latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.executionOutcomesTotal, "taskvault_executor_outcomes_total")
	s.register(reg, s.executionDuration, "taskvault_executor_duration_seconds")
}

func (s *PrometheusSink) initNotificationMetrics(reg prometheus.Registerer) {
	s.notificationAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskvault_notification_attempts_total",
		Help: "Total number of notification delivery attempts.",
	}, []string{"attempt", "outcome"})

	s.notificationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskvault_notification_outcomes_total",
		Help: "Total number of final notification outcomes.",
	}, []string{"outcome"})

	s.notificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskvault_notification_duration_seconds",
		Help:    "Notification delivery latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.register(reg, s.notificationAttemptsTotal, "taskvault_notification_attempts_total")
	s.register(reg, s.notificationOutcomesTotal, "taskvault_notification_outcomes_total")
	s.register(reg, s.notificationDuration, "taskvault_notification_duration_seconds")
}

func (s *PrometheusSink) initHTTPMetrics(reg prometheus.Registerer) {
	s.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskvault_http_requests_total",
		Help: "Total number of HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})

	s.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskvault_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	s.register(reg, s.requestsTotal, "taskvault_http_requests_total")
	s.register(reg, s.requestDuration, "taskvault_http_request_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskvault_leader_status",
		Help: "Whether this process is the reconcile leader (1) or a follower (0).",
	})

	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskvault_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "taskvault_leader_status")
	s.register(reg, s.leaderLostTotal, "taskvault_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Queue metrics implementation

func (s *PrometheusSink) EntriesClaimed(count int) {
	s.entriesClaimedTotal.Add(float64(count))
}

func (s *PrometheusSink) PendingDepthUpdate(depth int) {
	s.pendingDepth.Set(float64(depth))
}

func (s *PrometheusSink) StaleRequeued(count int) {
	s.staleRequeuedTotal.Add(float64(count))
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// Executor metrics implementation

func (s *PrometheusSink) ExecutionOutcome(jobType, outcome string) {
	s.executionOutcomesTotal.WithLabelValues(jobType, outcome).Inc()
}

func (s *PrometheusSink) ExecutionLatencyObserve(latencySeconds float64) {
	s.executionDuration.Observe(latencySeconds)
}

// Notification metrics implementation

func (s *PrometheusSink) NotificationAttemptCompleted(attempt int, outcome string, duration time.Duration) {
	s.notificationAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), outcome).Inc()
	s.notificationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) NotificationOutcome(outcome string) {
	s.notificationOutcomesTotal.WithLabelValues(outcome).Inc()
}

// HTTP metrics implementation

func (s *PrometheusSink) RequestCompleted(method, route string, status int, duration time.Duration) {
	s.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
