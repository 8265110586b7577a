package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request-lifecycle Prometheus instruments.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	enrichmentFailures prometheus.Counter
}

// NewMetrics registers the lifecycle metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them via promhttp.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scopelog_requests_total",
			Help: "Requests that passed through the scope lifecycle, by method and status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scopelog_request_duration_seconds",
			Help:    "Wall-clock time between scope creation and finalization.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		enrichmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scopelog_enrichment_failures_total",
			Help: "Enrichment callbacks that failed, timed out or panicked.",
		}),
	}
}

func (m *Metrics) observeRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) observeEnrichmentFailure() {
	if m == nil {
		return
	}

	m.enrichmentFailures.Inc()
}
