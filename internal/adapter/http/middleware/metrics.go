package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transactai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "transactai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency. Mailbox sessions are excluded.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "transactai",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Plain HTTP requests being processed.",
		},
	)

	mailboxSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "transactai",
			Subsystem: "http",
			Name:      "mailbox_sessions",
			Help:      "Open websocket mailbox sessions.",
		},
	)
)

// Metrics middleware records HTTP metrics. Websocket upgrades live for the
// whole mailbox session, so they are counted as sessions instead of feeding
// the latency histogram.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &metricsRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		if isWebsocketUpgrade(r) {
			mailboxSessions.Inc()
			defer mailboxSessions.Dec()

			next.ServeHTTP(wrapped, r)
			httpRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode)).Inc()
			return
		}

		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type metricsRecorder struct {
	http.ResponseWriter

	statusCode int
}

func (r *metricsRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (r *metricsRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// routePattern labels requests by matched chi route to keep cardinality
// bounded; unmatched paths share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
