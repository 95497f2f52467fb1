package core

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for auth counters.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultDuplicate   = "duplicate"
	ResultInvalid     = "invalid"
	ResultError       = "error"
	ResultRateLimited = "rate_limited"
)

// Metrics holds the Prometheus collectors for the API. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
	loginAttempts       *prometheus.CounterVec
	registrations       *prometheus.CounterVec
	sessionsEstablished prometheus.Counter
	sessionsInvalidated prometheus.Counter
	rateLimited         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demobank_http_requests_total",
			Help: "Total HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "demobank_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "demobank_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demobank_login_attempts_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demobank_registrations_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		sessionsEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "demobank_sessions_established_total",
			Help: "Sessions established.",
		}),
		sessionsInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "demobank_sessions_invalidated_total",
			Help: "Sessions invalidated by logout or rotation.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "demobank_rate_limited_total",
			Help: "Requests rejected by the per-IP auth rate limiter.",
		}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.httpInFlight,
		m.loginAttempts,
		m.registrations,
		m.sessionsEstablished,
		m.sessionsInvalidated,
		m.rateLimited,
	)
	return m
}

// Middleware records request count, latency and in-flight requests per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.httpInFlight.Inc()
		start := time.Now()
		c.Next()
		m.httpInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) loginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionEstablished() {
	if m == nil {
		return
	}
	m.sessionsEstablished.Inc()
}

func (m *Metrics) sessionInvalidated() {
	if m == nil {
		return
	}
	m.sessionsInvalidated.Inc()
}

func (m *Metrics) rateLimitedRequest() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
