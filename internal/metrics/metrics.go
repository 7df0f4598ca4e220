package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	MetaRequests        *prometheus.CounterVec
	MetaLatency         *prometheus.HistogramVec
	UploadBatches       *prometheus.CounterVec
	IdentifiersUploaded *prometheus.CounterVec
	PipelineRuns        *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	CacheOperations     *prometheus.CounterVec
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			MetaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meta_requests_total",
				Help:      "Total Meta Marketing API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			MetaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "meta_request_duration_seconds",
				Help:      "Latency distribution for Meta Marketing API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			UploadBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_batches_total",
				Help:      "Custom audience upload batches by outcome.",
			}, []string{"status"}),
			IdentifiersUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifiers_uploaded_total",
				Help:      "Hashed identifiers reported by the remote side as received or invalid.",
			}, []string{"kind"}),
			PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline flow runs by flow and outcome.",
			}, []string{"flow", "status"}),
			PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Duration of pipeline flow runs.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			}, []string{"flow"}),
			CacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Resource cache operations by op and result.",
			}, []string{"op", "result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.MetaRequests,
			metricsInstance.MetaLatency,
			metricsInstance.UploadBatches,
			metricsInstance.IdentifiersUploaded,
			metricsInstance.PipelineRuns,
			metricsInstance.PipelineDuration,
			metricsInstance.CacheOperations,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
