package proxy

import "github.com/prometheus/client_golang/prometheus"

// actionInvalid labels requests for verbs outside the allow-list, so
// arbitrary paths cannot grow label cardinality.
const actionInvalid = "invalid"

// Metrics are the proxy's Prometheus collectors.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	upstreamErrors *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// NewMetrics creates the proxy collectors and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qmail",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxy requests, labeled by action and response status code.",
		}, []string{"action", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qmail",
			Subsystem: "proxy",
			Name:      "upstream_duration_seconds",
			Help:      "Time spent waiting for the upstream oracle, labeled by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qmail",
			Subsystem: "proxy",
			Name:      "upstream_errors_total",
			Help:      "Upstream non-2xx responses and transport failures, labeled by action.",
		}, []string{"action"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qmail",
			Subsystem: "proxy",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.upstreamErrors, m.rateLimited)
	}
	return m
}
