package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Slot key set acquisition attempts by backend and result.",
		},
		[]string{"backend", "result"},
	)

	lockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a slot key set.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"backend"},
	)

	lockHold = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_hold_seconds",
			Help:      "Time a slot key set was held before release.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_operations_total",
			Help:      "Reservation and activity operations by result code.",
		},
		[]string{"operation", "result"},
	)

	invariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_invariant_violations_total",
			Help:      "Conditional slot writes that changed nothing while the lock was held.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, lockAcquisitions, lockWait, lockHold, operations, invariantViolations)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveLockAcquire(backend, result string, wait time.Duration) {
	lockAcquisitions.WithLabelValues(backend, result).Inc()
	lockWait.WithLabelValues(backend).Observe(wait.Seconds())
}

func ObserveLockHold(backend string, held time.Duration) {
	lockHold.WithLabelValues(backend).Observe(held.Seconds())
}

// IncOperation counts an operation outcome; result is "ok" or an error code.
func IncOperation(operation, result string) {
	operations.WithLabelValues(operation, result).Inc()
}

func IncInvariantViolation() {
	invariantViolations.Inc()
}
