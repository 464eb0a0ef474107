package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_received_total",
			Help: "Total number of messages that passed normalization",
		},
		[]string{"device_type"},
	)

	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_rejected_total",
			Help: "Total number of messages rejected at normalization",
		},
		[]string{"reason"},
	)

	recordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_records_dropped_total",
			Help: "Total number of records dropped due to backpressure or shutdown",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current number of records buffered in the ingestion queue",
		},
	)

	// Flush metrics
	flushRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_flush_records_total",
			Help: "Total number of records flushed to the sink by outcome",
		},
		[]string{"status"},
	)

	flushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_flush_duration_seconds",
			Help:    "Duration of batch flushes including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

var registerOnce sync.Once

// Register installs all collectors on the default Prometheus registry. Safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesReceived,
			messagesRejected,
			recordsDropped,
			queueDepth,
			flushRecords,
			flushDuration,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordReceived counts a successfully normalized message.
func RecordReceived(deviceType string) {
	messagesReceived.WithLabelValues(deviceType).Inc()
}

// RecordRejected counts a message rejected at normalization.
func RecordRejected(reason string) {
	messagesRejected.WithLabelValues(reason).Inc()
}

// RecordDropped counts records discarded by backpressure or shutdown.
func RecordDropped(n int) {
	recordsDropped.Add(float64(n))
}

// SetQueueDepth records current queue occupancy.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveFlush records the outcome and duration of one batch flush.
func ObserveFlush(batchSize int, d time.Duration, ok bool) {
	status := "committed"
	if !ok {
		status = "failed"
	}
	flushRecords.WithLabelValues(status).Add(float64(batchSize))
	flushDuration.WithLabelValues(status).Observe(d.Seconds())
}

// Middleware wraps an HTTP handler with request counting and latency metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
