package retention

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the sweeper's Prometheus collectors.
type Metrics struct {
	purged    prometheus.Counter
	errors    prometheus.Counter
	lastSweep prometheus.Gauge
}

// NewMetrics creates the sweeper collectors and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qmail",
			Subsystem: "retention",
			Name:      "purged_identities_total",
			Help:      "Revoked identities whose sealed secret key was erased.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qmail",
			Subsystem: "retention",
			Name:      "sweep_errors_total",
			Help:      "Sweeps that failed to list or purge identities.",
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qmail",
			Subsystem: "retention",
			Name:      "last_sweep",
			Help:      "The last Unix time a sweep completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.purged, m.errors, m.lastSweep)
	}
	return m
}
