// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

// AuthAttempts counts auth flow operations by outcome.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "libris_auth_attempts_total",
		Help: "Total number of auth operations",
	},
	[]string{"operation", "status"},
)

// LibraryOperations counts library record operations by outcome.
var LibraryOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "libris_library_operations_total",
		Help: "Total number of library record operations",
	},
	[]string{"operation", "status"},
)

// OrphanedAssets counts assets left behind after a failed cleanup.
var OrphanedAssets = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "libris_orphaned_assets_total",
		Help: "Total number of assets that could not be deleted after being unreferenced",
	},
)

// RequestDuration observes HTTP handler latency by route pattern.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "libris_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// RegisterMetrics registers the package collectors with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(LibraryOperations)
	reg.MustRegister(OrphanedAssets)
	reg.MustRegister(RequestDuration)
}

// Handler serves the metrics gathered by reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Outcome maps an error to a status label, with expected business failures
// (bad input, wrong password) reported apart from unexpected errors.
func Outcome(err error, expected func(error) bool) string {
	switch {
	case err == nil:
		return StatusSuccess
	case expected != nil && expected(err):
		return StatusFailure
	default:
		return StatusError
	}
}

// Instrument records RequestDuration for every request routed by chi.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
