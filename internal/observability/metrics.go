package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the security pipeline counters. A nil *Metrics is valid and
// records nothing, which keeps components usable in tests without a registry.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	rateLimited       *prometheus.CounterVec
	csrfRejected      prometheus.Counter
	authFailures      *prometheus.CounterVec
	logins            *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadcapture_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadcapture_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadcapture_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by tier.",
		}, []string{"tier"}),
		csrfRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadcapture_csrf_rejected_total",
			Help: "State-changing requests rejected by the CSRF guard.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadcapture_auth_failures_total",
			Help: "Requests rejected by the auth middleware, by reason.",
		}, []string{"reason"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadcapture_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadcapture_webhook_deliveries_total",
			Help: "Outbound lead webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		m.csrfRejected,
		m.authFailures,
		m.logins,
		m.webhookDeliveries,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimited(tier string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(tier).Inc()
}

func (m *Metrics) CSRFRejected() {
	if m == nil {
		return
	}
	m.csrfRejected.Inc()
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}
