package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddfrontier_queue_length",
			Help: "Total number of requests currently queued across all domains",
		},
	)

	QueueDomains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddfrontier_queue_domains",
			Help: "Number of distinct domains currently present in the queues index",
		},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddfrontier_pushes_total",
			Help: "Total number of push calls by outcome",
		},
		[]string{"outcome"}, // admitted, rejected_max_domains, rejected_restricted
	)

	PopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddfrontier_pops_total",
			Help: "Total number of pop calls by outcome",
		},
		[]string{"outcome"}, // hit, empty
	)

	MalformedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ddfrontier_malformed_requests_total",
			Help: "Total number of sorted-set members that failed to decode and were dropped",
		},
	)

	SelectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ddfrontier_selection_duration_seconds",
			Help:    "Time taken to select queue keys for a pop/pop_multi call",
			Buckets: prometheus.DefBuckets,
		},
	)

	SelectionCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddfrontier_selection_cache_total",
			Help: "Total number of candidate-set selection calls by cache outcome",
		},
		[]string{"outcome"}, // hit, miss
	)

	WorkersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddfrontier_workers_live",
			Help: "Number of live workers observed at this worker's last discover() call",
		},
	)

	RestrictedDomains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddfrontier_restricted",
			Help: "Whether the fleet has entered the domain-restricted state (1) or not (0)",
		},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddfrontier_store_operation_duration_seconds",
			Help:    "Latency of store gateway operations by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(QueueDomains)
	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(PopsTotal)
	prometheus.MustRegister(MalformedRequestsTotal)
	prometheus.MustRegister(SelectionDuration)
	prometheus.MustRegister(SelectionCacheHitsTotal)
	prometheus.MustRegister(WorkersLive)
	prometheus.MustRegister(RestrictedDomains)
	prometheus.MustRegister(StoreOperationDuration)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
