// Package metrics provides Prometheus metrics for the HTTP server and the
// drug batch pipeline. All metrics are registered with the default registry
// during package initialization and exposed through Handler.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Number of per-client rate limiter buckets currently held",
		},
	)

	BatchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drug_batches_processed_total",
			Help: "Batch processing attempts by outcome",
		},
		[]string{"outcome"},
	)

	BatchProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "drug_batch_processing_seconds",
			Help: "Wall time of a batch processing run, enrichment call included",
			// Enrichment calls routinely take tens of seconds.
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	DrugsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drugs_created_total",
			Help: "Library drugs created by batch processing",
		},
	)

	RequestsApproved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drug_requests_approved_total",
			Help: "Drug requests approved by batch processing",
		},
	)

	BatchesStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drug_batches_stale",
			Help: "Batches stuck in processing longer than the stale threshold",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBucketsTotal)
	prometheus.MustRegister(BatchesProcessed)
	prometheus.MustRegister(BatchProcessingDuration)
	prometheus.MustRegister(DrugsCreated)
	prometheus.MustRegister(RequestsApproved)
	prometheus.MustRegister(BatchesStale)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// BatchRecorder records batch pipeline metrics.
type BatchRecorder struct{}

// ObserveRun records one processing run. Duration is only observed for runs
// that reached the enrichment step.
func (BatchRecorder) ObserveRun(outcome string, d time.Duration, drugsCreated, requestsApproved int) {
	BatchesProcessed.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		BatchProcessingDuration.Observe(d.Seconds())
	}
	DrugsCreated.Add(float64(drugsCreated))
	RequestsApproved.Add(float64(requestsApproved))
}

// SetStale reports how many batches are stuck in processing.
func (BatchRecorder) SetStale(n int) {
	BatchesStale.Set(float64(n))
}
