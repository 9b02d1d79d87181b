package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DocumentsUploaded = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_documents_uploaded_total", Help: "Documents accepted for processing"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	JobsEnqueued      = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_jobs_enqueued_total", Help: "Pipeline jobs enqueued"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_jobs_completed_total", Help: "Pipeline jobs completed successfully"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_jobs_failed_total", Help: "Pipeline jobs that ended failed"})
	LeasesReaped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "docpilot_leases_reaped_total", Help: "Expired job leases failed by the reaper"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "docpilot_queue_depth", Help: "Ready queue depth"})
	SSESubscribers    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "docpilot_sse_subscribers", Help: "Open progress stream subscriptions"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docpilot_stage_duration_seconds",
		Help:    "Pipeline stage wall time by stage and outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage", "outcome"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			DocumentsUploaded,
			RateLimitRejects,
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			LeasesReaped,
			QueueDepthGauge,
			SSESubscribers,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
