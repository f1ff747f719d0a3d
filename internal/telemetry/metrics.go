package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Total enqueued jobs"})
	DedupeHits        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_dedupe_hits_total", Help: "Enqueues answered with an existing active job"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	WorkerSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs completed successfully"})
	WorkerRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Jobs rescheduled after a transient failure"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that failed terminally"})
	StaleReclaims     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_stale_reclaims_total", Help: "Processing jobs swept back to pending"})
	AutopilotPublishes = prometheus.NewCounter(prometheus.CounterOpts{Name: "autopilot_publish_enqueued_total", Help: "Publish jobs enqueued by the scheduler"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Pending jobs"})
	OldestPendingAge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_oldest_pending_age_seconds", Help: "Age of the oldest pending job"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently claimed"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			DedupeHits,
			RateLimitRejects,
			WorkerSuccess,
			WorkerRetries,
			WorkerFailures,
			StaleReclaims,
			AutopilotPublishes,
			QueueDepthGauge,
			OldestPendingAge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
