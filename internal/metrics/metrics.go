// Package metrics provides Prometheus instrumentation for the sale engine.
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
	// Participations counts accepted contributions, partitioned by
	// payment token.
	Participations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ido_participations_total",
		Help: "Total number of accepted participations",
	}, []string{"token"})

	// Claims counts settled positions.
	Claims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ido_claims_total",
		Help: "Total number of claimed positions",
	})

	// RoundsCreated counts created funding rounds.
	RoundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ido_rounds_created_total",
		Help: "Total number of rounds created",
	})

	// RoundsFinalized counts finalized funding rounds.
	RoundsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ido_rounds_finalized_total",
		Help: "Total number of rounds finalized",
	})

	// CapRejections counts contributions rejected by the secondary-token
	// basis-point cap.
	CapRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ido_cap_rejections_total",
		Help: "Participations rejected by the secondary token cap",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ido_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ido_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
