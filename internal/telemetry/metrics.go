package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued   = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_jobs_enqueued_total", Help: "Jobs created by producers"})
	JobsLeased     = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_jobs_leased_total", Help: "Jobs claimed by a worker"})
	JobsCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_jobs_completed_total", Help: "Jobs committed successfully"})
	JobsRetried    = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_jobs_retried_total", Help: "Failed attempts returned to pending"})
	JobsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_jobs_failed_total", Help: "Jobs that exhausted their retry budget"})
	InFlightGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "feedback_jobs_inflight", Help: "Jobs currently leased by this process"})
	JobProgress    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "feedback_job_progress_ratio", Help: "processed_records / total_records of in-flight jobs"}, []string{"job_id"})
	JobDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "feedback_job_duration_seconds", Help: "Attempt duration by outcome", Buckets: prometheus.DefBuckets}, []string{"outcome"})
	MessagesStored = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_messages_inserted_total", Help: "Messages inserted (duplicates excluded)"})

	ClassifierBatches = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "feedback_classifier_batches_total", Help: "Classification batches by label source"}, []string{"source"})
	ClassifierCache   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "feedback_classifier_cache_total", Help: "Classification cache lookups"}, []string{"result"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feedback_http_rate_limit_rejects_total", Help: "HTTP requests rejected by the rate limiter"})
)

// Handler exposes the /metrics handler, registering collectors on first use.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsLeased,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			InFlightGauge,
			JobProgress,
			JobDuration,
			MessagesStored,
			ClassifierBatches,
			ClassifierCache,
			RateLimitRejects,
		)
	})
}
