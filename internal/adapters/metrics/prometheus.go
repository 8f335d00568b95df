// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	tileReads           *prometheus.CounterVec
	queryCounter        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	boundsCache         *prometheus.CounterVec
	catalogsConnected   prometheus.Gauge
	backendOperations   *prometheus.CounterVec
	backendDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "stratum"
	}

	return &Collector{
		tileReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_reads_total",
				Help:      "Total number of single-tile reads",
			},
			[]string{"layer", "outcome"},
		),

		queryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of layer queries",
			},
			[]string{"layer", "status"},
		),

		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Layer query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"layer"},
		),

		boundsCache: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bounds_cache_lookups_total",
				Help:      "Bounds cache lookups by result",
			},
			[]string{"result"},
		),

		catalogsConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalogs_connected",
				Help:      "Number of cached catalog connection bundles",
			},
		),

		backendOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_operations_total",
				Help:      "Total number of storage backend operations",
			},
			[]string{"backend", "operation", "status"},
		),

		backendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_duration_seconds",
				Help:      "Storage backend operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncTileRead increments the single-tile read counter.
func (c *Collector) IncTileRead(layer string, outcome string) {
	c.tileReads.WithLabelValues(layer, outcome).Inc()
}

// IncQueryCount increments the layer query counter.
func (c *Collector) IncQueryCount(layer string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.queryCounter.WithLabelValues(layer, status).Inc()
}

// ObserveQueryDuration records layer query duration.
func (c *Collector) ObserveQueryDuration(layer string, duration time.Duration) {
	c.queryDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// IncBoundsCache counts bounds cache lookups by hit/miss.
func (c *Collector) IncBoundsCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	c.boundsCache.WithLabelValues(result).Inc()
}

// SetCatalogsConnected sets the number of cached connection bundles.
func (c *Collector) SetCatalogsConnected(count int) {
	c.catalogsConnected.Set(float64(count))
}

// IncBackendOperations increments the backend operation counter.
func (c *Collector) IncBackendOperations(backend, operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.backendOperations.WithLabelValues(backend, operation, status).Inc()
}

// ObserveBackendDuration records backend operation duration.
func (c *Collector) ObserveBackendDuration(backend, operation string, duration time.Duration) {
	c.backendDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := statusToString(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes the URL path for metrics.
func normalizePath(path string) string {
	// Replace dynamic segments with placeholders
	// This prevents high cardinality metrics
	switch {
	case len(path) > 20:
		return path[:20] + "..."
	default:
		return path
	}
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
