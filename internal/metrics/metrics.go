// Package metrics provides Prometheus metrics for the vibecode server and
// persistence layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibecode_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// State persistence metrics
	stateSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_state_saves_total",
			Help: "Project state saves by result",
		},
		[]string{"status"},
	)

	stateLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_state_loads_total",
			Help: "Project state loads by result",
		},
		[]string{"status"},
	)

	nodesUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibecode_nodes_upserted_total",
			Help: "File nodes written by state saves",
		},
	)

	nodesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibecode_nodes_deleted_total",
			Help: "File nodes removed because they were absent from a save",
		},
	)

	chatInsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibecode_chat_messages_inserted_total",
			Help: "Chat messages appended to project logs",
		},
	)

	// Gateway metrics
	gatewayFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_gateway_fallbacks_total",
			Help: "Operations that fell back from the remote to the local store",
		},
		[]string{"operation"},
	)

	writerSupersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibecode_writer_superseded_total",
			Help: "Snapshots replaced by a newer one before being written",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_auth_attempts_total",
			Help: "Bearer token checks by result",
		},
		[]string{"status"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibecode_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibecode_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Blob storage metrics
	blobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibecode_blob_operation_duration_seconds",
			Help:    "Archive blob operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	blobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibecode_blob_operations_total",
			Help: "Total archive blob operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStateSave records a state save with the node churn it caused.
func RecordStateSave(success bool, upserted, deleted int) {
	stateSavesTotal.WithLabelValues(status(success)).Inc()
	nodesUpsertedTotal.Add(float64(upserted))
	nodesDeletedTotal.Add(float64(deleted))
}

// RecordStateLoad records a state load.
func RecordStateLoad(success bool) {
	stateLoadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordChatInserts counts appended chat messages.
func RecordChatInserts(n int) {
	chatInsertsTotal.Add(float64(n))
}

// RecordFallback counts an operation served by the local store.
func RecordFallback(operation string) {
	gatewayFallbacksTotal.WithLabelValues(operation).Inc()
}

// RecordSuperseded counts a pending snapshot replaced before it was written.
func RecordSuperseded() {
	writerSupersededTotal.Inc()
}

// RecordAuthAttempt records a bearer token check.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the open connection gauge.
func SetDBConnectionsOpen(n int) {
	dbConnectionsOpen.Set(float64(n))
}

// RecordBlobOperation records an archive storage operation.
func RecordBlobOperation(backend, operation string, duration time.Duration, success bool) {
	blobOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	blobOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled with the matched route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
