package middleware

import (
	"net/http"
	"time"

	"github.com/andina-labs/almacen/pkg/observability"
)

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging logs every request with method, path, status and duration.
type Logging struct {
	logger *observability.Logger
}

// NewLogging creates the request logging middleware.
func NewLogging(logger *observability.Logger) *Logging {
	return &Logging{logger: logger}
}

// Handler wraps an HTTP handler with request logging.
func (m *Logging) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		logger := m.logger.FromContext(r.Context())
		logger = observability.LoggerWithTraceContext(r.Context(), logger)
		logger.
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request completed")
	})
}

// Metrics records Prometheus request counters and latency histograms.
type Metrics struct {
	metrics *observability.Metrics
}

// NewMetrics creates the request metrics middleware.
func NewMetrics(metrics *observability.Metrics) *Metrics {
	return &Metrics{metrics: metrics}
}

// Handler wraps an HTTP handler with request metrics. The raw URL path
// is low cardinality here: the gateway serves a fixed route table.
func (m *Metrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		m.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
