package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job throughput
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runpod_jobs_completed_total",
			Help: "Total number of jobs completed by outcome",
		},
		[]string{"outcome"},
	)

	JobsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_jobs_in_progress",
			Help: "Number of jobs currently in flight on this worker",
		},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runpod_handler_duration_seconds",
			Help:    "Handler execution duration in seconds by dispatch kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Executor pool
	ExecutorPoolUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_executor_pool_in_use",
			Help: "Number of sync-handler worker pool slots currently in use",
		},
	)

	// Concurrency / scaler
	ConcurrencyCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_concurrency_current",
			Help: "Current concurrency limit applied by the job scaler",
		},
	)

	ConcurrencySlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_concurrency_slots_in_use",
			Help: "Number of concurrency slots currently held by in-flight jobs",
		},
	)

	FetchEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runpod_fetch_empty_total",
			Help: "Total number of fetch cycles that returned no job",
		},
	)

	// Heartbeat
	HeartbeatFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runpod_heartbeat_failures_total",
			Help: "Total number of failed heartbeat pings",
		},
	)

	HeartbeatBackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_heartbeat_backoff_seconds",
			Help: "Current heartbeat retry backoff in seconds",
		},
	)

	// Progress pipeline
	ProgressQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runpod_progress_queue_depth",
			Help: "Number of progress updates buffered and awaiting flush",
		},
	)

	ProgressDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runpod_progress_dropped_total",
			Help: "Total number of progress updates dropped because the queue was full",
		},
	)

	ProgressFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runpod_progress_flush_duration_seconds",
			Help:    "Time taken to flush a batch of progress updates",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API client
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runpod_api_requests_total",
			Help: "Total number of control-plane requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runpod_api_request_duration_seconds",
			Help:    "Control-plane request duration in seconds by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsInProgress)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(ExecutorPoolUtilization)
	prometheus.MustRegister(ConcurrencyCurrent)
	prometheus.MustRegister(ConcurrencySlotsInUse)
	prometheus.MustRegister(FetchEmptyTotal)
	prometheus.MustRegister(HeartbeatFailuresTotal)
	prometheus.MustRegister(HeartbeatBackoffSeconds)
	prometheus.MustRegister(ProgressQueueDepth)
	prometheus.MustRegister(ProgressDroppedTotal)
	prometheus.MustRegister(ProgressFlushDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
