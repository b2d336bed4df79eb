package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pkce_server"

// Metrics exports dispatcher measurements on its own registry. It
// satisfies auth.Metrics.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	queueWait  *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
	queueDepth prometheus.Gauge
	storeSize  *prometheus.GaugeVec
	rateLimits prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Dispatcher operations by name and OAuth outcome.",
		}, []string{"operation", "outcome"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_queue_seconds",
			Help:      "Time operations spent waiting for the executor.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time the executor spent running operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Operations admitted but not yet executed.",
		}),
		storeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_entries",
			Help:      "Live entries per store.",
		}, []string{"store"}),
		rateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.operations, m.queueWait, m.duration, m.queueDepth, m.storeSize, m.rateLimits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOperation(op, outcome string, queued, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.queueWait.WithLabelValues(op).Observe(queued.Seconds())
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SetStoreSize(codes, access, refresh int) {
	m.storeSize.WithLabelValues("codes").Set(float64(codes))
	m.storeSize.WithLabelValues("access_tokens").Set(float64(access))
	m.storeSize.WithLabelValues("refresh_tokens").Set(float64(refresh))
}

// RateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RateLimited() {
	m.rateLimits.Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
