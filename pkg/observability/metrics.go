package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionResolutionsTotal   *prometheus.CounterVec
	PermissionResolutionDuration prometheus.Histogram
	PermissionChecksTotal        *prometheus.CounterVec
	OverrideWritesTotal          *prometheus.CounterVec

	// Cache metrics
	TemplateCacheHitsTotal   prometheus.Counter
	TemplateCacheMissesTotal prometheus.Counter

	// Rate limiting
	RateLimitRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pms_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PermissionResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_permission_resolutions_total",
				Help: "Total number of effective permission resolutions",
			},
			[]string{"outcome"},
		),
		PermissionResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pms_permission_resolution_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_permission_checks_total",
				Help: "Total number of module/action permission checks",
			},
			[]string{"module", "action", "allowed"},
		),
		OverrideWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_override_writes_total",
				Help: "Total number of template and override writes",
			},
			[]string{"kind", "operation"},
		),
		TemplateCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pms_template_cache_hits_total",
				Help: "Total number of role template cache hits",
			},
		),
		TemplateCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pms_template_cache_misses_total",
				Help: "Total number of role template cache misses",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"prefix"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionResolutionsTotal,
		m.PermissionResolutionDuration,
		m.PermissionChecksTotal,
		m.OverrideWritesTotal,
		m.TemplateCacheHitsTotal,
		m.TemplateCacheMissesTotal,
		m.RateLimitRejectionsTotal,
	)

	return m
}

// ObserveResolution records one resolution outcome ("allowed_member",
// "non_member", "error", ...) and its duration. Safe on a nil receiver.
func (m *Metrics) ObserveResolution(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PermissionResolutionsTotal.WithLabelValues(outcome).Inc()
	m.PermissionResolutionDuration.Observe(duration.Seconds())
}

// ObserveCheck records a single module/action decision. Safe on a nil receiver.
func (m *Metrics) ObserveCheck(module, action string, allowed bool) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(module, action, strconv.FormatBool(allowed)).Inc()
}

// ObserveWrite records an administrative write. Safe on a nil receiver.
func (m *Metrics) ObserveWrite(kind, operation string) {
	if m == nil {
		return
	}
	m.OverrideWritesTotal.WithLabelValues(kind, operation).Inc()
}

// ObserveTemplateCache records a template cache lookup. Safe on a nil receiver.
func (m *Metrics) ObserveTemplateCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.TemplateCacheHitsTotal.Inc()
		return
	}
	m.TemplateCacheMissesTotal.Inc()
}

// ObserveRateLimitRejection records a rejected request. Safe on a nil receiver.
func (m *Metrics) ObserveRateLimitRejection(prefix string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(prefix).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Use it as a mux middleware so the route template is available.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}
