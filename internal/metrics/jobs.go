package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessed, jobsEnqueued, limiterRejections, claimLatency, queueDepth)
}

var (
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxpilot_jobs_enqueued_total",
			Help: "Jobs accepted into the queue per job type.",
		},
		[]string{"job_type"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxpilot_jobs_processed_total",
			Help: "Worker executions per job type and resulting status.",
		},
		[]string{"job_type", "status"},
	)

	limiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxpilot_limiter_rejections_total",
			Help: "Admission rejections by reason (rpm or cooldown).",
		},
		[]string{"reason"},
	)

	claimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inboxpilot_job_claim_seconds",
			Help:    "Time spent in the atomic claim of the next eligible job.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inboxpilot_queue_jobs",
			Help: "Jobs per status as of the last queue stats refresh.",
		},
		[]string{"status"},
	)
)

func JobEnqueued(jobType string) {
	jobsEnqueued.WithLabelValues(norm(jobType)).Inc()
}

func JobProcessed(jobType, status string) {
	jobsProcessed.WithLabelValues(norm(jobType), norm(status)).Inc()
}

func LimiterRejected(reason string) {
	limiterRejections.WithLabelValues(norm(reason)).Inc()
}

func ObserveClaim(d time.Duration) {
	claimLatency.Observe(d.Seconds())
}

// SetQueueDepth publishes the per-status job counts.
func SetQueueDepth(queued, processing, done, failed int) {
	queueDepth.WithLabelValues("queued").Set(float64(queued))
	queueDepth.WithLabelValues("processing").Set(float64(processing))
	queueDepth.WithLabelValues("done").Set(float64(done))
	queueDepth.WithLabelValues("error").Set(float64(failed))
}
