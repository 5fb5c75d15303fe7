package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	KeyRotations      *prometheus.CounterVec
	KeyRotationTime   prometheus.Histogram
	KeyLookups        *prometheus.CounterVec
	TokenIssued       *prometheus.CounterVec
	TokenVerification *prometheus.CounterVec
	AuthDecisions     *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never panics on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		KeyRotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_key_rotations_total",
				Help: "Total number of signing key rotation attempts.",
			},
			[]string{"result"},
		),
		KeyRotationTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sharedauth_key_rotation_duration_seconds",
				Help:    "Duration of signing key rotations including publication.",
				Buckets: prometheus.DefBuckets,
			},
		),
		KeyLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_public_key_lookups_total",
				Help: "Public key resolutions by source (local, shared, miss).",
			},
			[]string{"source"},
		),
		TokenIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_tokens_issued_total",
				Help: "Total number of issued tokens.",
			},
			[]string{"token_type"},
		),
		TokenVerification: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_token_verifications_total",
				Help: "Token verifications by outcome.",
			},
			[]string{"result"},
		),
		AuthDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_auth_decisions_total",
				Help: "Request authentication decisions by policy, token type and outcome.",
			},
			[]string{"policy", "token_type", "result"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_http_requests_total",
				Help: "HTTP requests by method, route template and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sharedauth_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route template.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharedauth_rate_limit_decisions_total",
				Help: "Rate limit decisions by scope, backend and outcome.",
			},
			[]string{"scope", "backend", "result"},
		),
	}
}

// NewNopMetrics returns metrics registered on a private registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordRotation records the outcome of one rotation attempt.
func (m *Metrics) RecordRotation(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.KeyRotations.WithLabelValues(result).Inc()
	m.KeyRotationTime.Observe(duration.Seconds())
}

// RecordKeyLookup records where a public key was resolved from.
func (m *Metrics) RecordKeyLookup(source string) {
	if m == nil {
		return
	}
	m.KeyLookups.WithLabelValues(source).Inc()
}

// RecordTokenIssued records one issued token.
func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokenIssued.WithLabelValues(tokenType).Inc()
}

// RecordVerification records one verification outcome ("authenticated" or a failure kind).
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.TokenVerification.WithLabelValues(result).Inc()
}

// RecordAuthDecision records a policy decision.
func (m *Metrics) RecordAuthDecision(policy, tokenType, result string) {
	if m == nil {
		return
	}
	m.AuthDecisions.WithLabelValues(policy, tokenType, result).Inc()
}

// RecordHTTPRequest records one served HTTP request. path is the route template, never the raw URL.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimit records one rate limit decision. backend is "redis" or "local".
func (m *Metrics) RecordRateLimit(scope, backend string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.RateLimited.WithLabelValues(scope, backend, result).Inc()
}

//Personal.AI order the ending
