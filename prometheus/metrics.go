package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Resolve attempts by backing mode and outcome
	ResolveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_resolve_total",
			Help: "Total number of connection resolutions by backing mode and outcome",
		},
		[]string{"mode", "outcome"}, // outcome is "hit", "provisioned" or "error"
	)

	// Provisioning attempts by backing mode
	ProvisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_provision_total",
			Help: "Total number of provisioning attempts by backing mode and result",
		},
		[]string{"mode", "result"}, // result is "ok", "noop" or "error"
	)

	// Project operation counter
	ProjectOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_project_operations_total",
			Help: "Total number of project operations",
		},
		[]string{"operation"}, // operation can be "create", "access", "update", "delete", etc.
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AccessErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_errors_total",
			Help: "Total number of access-layer errors",
		},
		[]string{"type"}, // type can be "access_denied", "project_not_found", "provisioning_failed" etc.
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_db_operation_duration_seconds",
			Help:    "Duration of control-plane database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)

	// Provisioning duration by backing mode
	ProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_provision_duration_seconds",
			Help:    "Duration of provisioning runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

// Gauge metrics
var (
	// Cached connection handles
	CachedHandlesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_cached_handles",
			Help: "Number of currently cached project connection handles",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_info",
			Help: "Information about the data-access service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(ResolveCounter)
	prometheus.MustRegister(ProvisionCounter)
	prometheus.MustRegister(ProjectOperationCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AccessErrorCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(ProvisionDuration)

	prometheus.MustRegister(CachedHandlesGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures control-plane database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// TrackProvision measures provisioning durations by backing mode
func TrackProvision(mode string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		ProvisionDuration.With(prometheus.Labels{
			"mode": mode,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordResolve records a resolve attempt by backing mode and outcome
func RecordResolve(mode, outcome string) {
	ResolveCounter.With(prometheus.Labels{"mode": mode, "outcome": outcome}).Inc()
}

// RecordProvision records a provisioning attempt by backing mode and result
func RecordProvision(mode, result string) {
	ProvisionCounter.With(prometheus.Labels{"mode": mode, "result": result}).Inc()
}

// RecordProjectOperation records a project operation
func RecordProjectOperation(operation string) {
	ProjectOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordAccessError records an access-layer error by type
func RecordAccessError(errorType string) {
	AccessErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// SetCachedHandles updates the cached handles gauge
func SetCachedHandles(count int) {
	CachedHandlesGauge.Set(float64(count))
}
