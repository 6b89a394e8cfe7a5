// Package metrics exposes Prometheus instrumentation for the web front-end
// and its calls to the scoring backend.
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

// Backend call outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeTransportError = "transport_error"
	OutcomeFormatError    = "format_error"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fluency",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fluency",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests served.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	BackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fluency",
			Name:      "backend_requests_total",
			Help:      "Scoring backend calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	BackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fluency",
			Name:      "backend_request_duration_seconds",
			Help:      "Latency of scoring backend calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	QuestionsFallback = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fluency",
			Name:      "questions_fallback",
			Help:      "1 when the built-in questions replaced an unreadable reference file.",
		},
	)
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		RequestCounter, RequestDuration, BackendCalls, BackendDuration, QuestionsFallback,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveBackendCall records one call to a scoring endpoint.
func ObserveBackendCall(endpoint, outcome string, elapsed time.Duration) {
	BackendCalls.WithLabelValues(endpoint, outcome).Inc()
	BackendDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Middleware counts and times requests by their chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
