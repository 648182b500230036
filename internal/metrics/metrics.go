// Package metrics provides Prometheus metrics for the BeatGate gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "beatgate"
	subsystem = "gateway"
)

var (
	// RequestsTotal counts the requests answered by the gateway.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests answered by the gateway.",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration tracks the end-to-end latency of requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
	)

	// ForwardFailuresTotal counts backend calls that produced no response.
	ForwardFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forward_failures_total",
			Help:      "Total number of backend calls that failed with a timeout or transport error.",
		},
		[]string{"route", "kind"},
	)

	// NotificationsTotal counts notification attempts by result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Total number of notification calls by route and result.",
		},
		[]string{"route", "result"},
	)

	// ActiveRequests tracks the number of requests being processed.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_requests",
			Help:      "Number of requests currently being processed.",
		},
	)
)

// RecordRequest records metrics for a completed request.
func RecordRequest(route, method string, statusCode int, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	RateLimitedTotal.Inc()
}

// RecordForwardFailure increments the forward failure counter.
func RecordForwardFailure(route, kind string) {
	ForwardFailuresTotal.WithLabelValues(route, kind).Inc()
}

// RecordNotification increments the notification counter.
func RecordNotification(route string, succeeded bool) {
	result := "success"
	if !succeeded {
		result = "failure"
	}
	NotificationsTotal.WithLabelValues(route, result).Inc()
}

// Handler returns the Prometheus HTTP handler for exposing metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ResponseWriter wraps http.ResponseWriter to capture the status code.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

// NewResponseWriter creates a new ResponseWriter wrapper.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing it.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
