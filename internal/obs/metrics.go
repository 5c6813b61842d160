package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Latency of authentication flows by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "success"},
	)

	authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total authentication flow outcomes.",
		},
		[]string{"operation", "success"},
	)

	storeUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_up",
			Help: "Backing store availability as seen by the resilience manager (1=connected).",
		},
		[]string{"store"},
	)
)

// Init registers all collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		authOperationDuration,
		authOperationsTotal,
		storeUp,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetStoreUp records the availability of a backing store.
func SetStoreUp(store string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	storeUp.WithLabelValues(store).Set(v)
}

// AuthMetrics is the metrics sink handed to the auth orchestrator.
// Observations are fire-and-forget.
type AuthMetrics struct{}

func (AuthMetrics) Observe(operation string, elapsed time.Duration, success bool) {
	s := strconv.FormatBool(success)
	authOperationDuration.WithLabelValues(operation, s).Observe(elapsed.Seconds())
	authOperationsTotal.WithLabelValues(operation, s).Inc()
}

// Instrument wraps an HTTP handler with in-flight, count, and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
