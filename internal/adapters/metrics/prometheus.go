// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "geosource"

// featureBuckets covers result sizes from a handful of shapes to bulk exports.
var featureBuckets = prometheus.ExponentialBuckets(1, 4, 10)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry prometheus.Gatherer

	queries             *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	featuresReturned    *prometheus.HistogramVec
	malformedRecords    *prometheus.CounterVec
	sourcesLoaded       prometheus.Gauge
	sourcesReady        prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the metrics with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewCollectorWith(namespace, reg)
}

// NewCollectorWith registers the metrics with reg.
func NewCollectorWith(namespace string, reg *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of source queries",
		}, []string{"source", "operation", "status"}),

		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Source query duration in seconds, including reprojection",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "operation"}),

		featuresReturned: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "features_returned",
			Help:      "Number of features returned per shape query",
			Buckets:   featureBuckets,
		}, []string{"source"}),

		malformedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Records skipped because they have neither geometry nor centroid",
		}, []string{"source"}),

		sourcesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_loaded",
			Help:      "Number of registered sources",
		}),

		sourcesReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_ready",
			Help:      "Number of connected sources",
		}),

		storageOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of dataset storage operations",
		}, []string{"operation", "status"}),

		storageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_duration_seconds",
			Help:      "Dataset storage operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncQueryCount increments the query counter.
func (c *Collector) IncQueryCount(source, operation string, success bool) {
	c.queries.WithLabelValues(source, operation, status(success)).Inc()
}

// ObserveQueryDuration records query duration.
func (c *Collector) ObserveQueryDuration(source, operation string, duration time.Duration) {
	c.queryDuration.WithLabelValues(source, operation).Observe(duration.Seconds())
}

// ObserveFeatureCount records the size of a shape query result.
func (c *Collector) ObserveFeatureCount(source string, count int) {
	c.featuresReturned.WithLabelValues(source).Observe(float64(count))
}

// IncMalformedRecords counts a skipped record.
func (c *Collector) IncMalformedRecords(source string) {
	c.malformedRecords.WithLabelValues(source).Inc()
}

// SetSourcesLoaded sets the number of registered sources.
func (c *Collector) SetSourcesLoaded(count int) {
	c.sourcesLoaded.Set(float64(count))
}

// SetSourcesReady sets the number of connected sources.
func (c *Collector) SetSourcesReady(count int) {
	c.sourcesReady.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the scrape handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and duration per route template. It must
// be installed with mux.Router.Use so that the matched route is known.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := routeTemplate(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, route, statusClass(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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

// routeTemplate keeps label cardinality bounded by using the route pattern
// instead of the request path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusClass converts an HTTP status code to its class, e.g. "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
