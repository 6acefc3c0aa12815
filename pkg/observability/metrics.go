package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal        *prometheus.CounterVec
	SessionChecksTotal *prometheus.CounterVec
	OAuthFlowsTotal    *prometheus.CounterVec

	// Proxy metrics
	ProxyRequestsTotal  *prometheus.CounterVec
	ProxyDeniedTotal    *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	UpstreamErrorsTotal *prometheus.CounterVec

	// Pending-authorization store metrics
	StateStoreOpsTotal *prometheus.CounterVec

	// Avatar cache metrics
	AvatarCacheHitsTotal   prometheus.Counter
	AvatarCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "almacen_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_logins_total",
				Help: "Total number of credential logins",
			},
			[]string{"result"},
		),
		SessionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_session_checks_total",
				Help: "Total number of session introspections",
			},
			[]string{"result"},
		),
		OAuthFlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_oauth_flows_total",
				Help: "Total number of OAuth flow steps",
			},
			[]string{"step", "mode", "result"},
		),
		ProxyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_proxy_requests_total",
				Help: "Total number of data-proxy requests forwarded upstream",
			},
			[]string{"method", "status"},
		),
		ProxyDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_proxy_denied_total",
				Help: "Total number of data-proxy requests denied before forwarding",
			},
			[]string{"reason"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "almacen_upstream_request_duration_seconds",
				Help:    "Identity/data service round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_upstream_errors_total",
				Help: "Total number of identity/data service call failures",
			},
			[]string{"service", "operation"},
		),
		StateStoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "almacen_state_store_ops_total",
				Help: "Total number of pending-authorization store operations",
			},
			[]string{"backend", "op", "result"},
		),
		AvatarCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "almacen_avatar_cache_hits_total",
				Help: "Total number of avatar metadata cache hits",
			},
		),
		AvatarCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "almacen_avatar_cache_misses_total",
				Help: "Total number of avatar metadata cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.SessionChecksTotal,
		m.OAuthFlowsTotal,
		m.ProxyRequestsTotal,
		m.ProxyDeniedTotal,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.StateStoreOpsTotal,
		m.AvatarCacheHitsTotal,
		m.AvatarCacheMissesTotal,
	)

	return m
}

// ObserveHTTPRequest records a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveUpstream records an identity/data service round trip
func (m *Metrics) ObserveUpstream(service, operation string, duration time.Duration, err error) {
	m.UpstreamDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	if err != nil {
		m.UpstreamErrorsTotal.WithLabelValues(service, operation).Inc()
	}
}

// Handler returns the Prometheus scrape handler for the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
