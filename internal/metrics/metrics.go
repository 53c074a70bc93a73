package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdetl"

// Global registry (can be replaced by custom one later if needed)
var Registry = prometheus.NewRegistry()

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests received",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "records_total",
			Help:      "Rows written per table kind and result.",
		},
		[]string{"table", "result"},
	)
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flushes_total",
			Help:      "Batch flushes by result.",
		},
		[]string{"result"},
	)
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flush_duration_seconds",
			Help:      "Duration of a batch flush in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	FlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flush_records",
			Help:      "Records per batch flush.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingest jobs by result.",
		},
		[]string{"source", "result"},
	)
)

func init() {
	Registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RecordsTotal,
		FlushesTotal,
		FlushDuration,
		FlushSize,
		JobsTotal,
	)
}

// ObserveFlush records one flush and the rows each table rejected.
func ObserveFlush(records, failedData, failedMetadata int, d time.Duration) {
	result := "ok"
	if failedData+failedMetadata > 0 {
		result = "failed"
	}
	FlushesTotal.WithLabelValues(result).Inc()
	FlushDuration.Observe(d.Seconds())
	FlushSize.Observe(float64(records))

	RecordsTotal.WithLabelValues("data", "ok").Add(float64(records - failedData))
	RecordsTotal.WithLabelValues("data", "failed").Add(float64(failedData))
	RecordsTotal.WithLabelValues("metadata", "ok").Add(float64(records - failedMetadata))
	RecordsTotal.WithLabelValues("metadata", "failed").Add(float64(failedMetadata))
}

// ObserveWrite records a single synchronous insert.
func ObserveWrite(table string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	RecordsTotal.WithLabelValues(table, result).Inc()
}

// MetricsHandler returns a standard promhttp handler bound to the custom registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}) //nolint:exhaustruct // defaults
}

// InstrumentHTTP wraps an http.Handler and records metrics.
func InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ObserveJob counts one ingest job by where it came from and how it ended.
func ObserveJob(source, result string) {
	JobsTotal.WithLabelValues(source, result).Inc()
}
