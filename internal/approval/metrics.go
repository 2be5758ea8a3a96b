package approval

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the manager's prometheus instruments, grounded on the
// same pattern as policy.Engine's decisions counter: instantiated once,
// exposed via Collector for the host to register.
type metrics struct {
	pending    prometheus.Gauge
	resolved   *prometheus.CounterVec
	latency    prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loki_approval_pending",
			Help: "Number of approval requests currently awaiting resolution.",
		}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loki_approval_resolutions_total",
			Help: "Approval resolutions by method (auto, manual, timeout).",
		}, []string{"method", "approved"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loki_approval_resolution_seconds",
			Help:    "Time from approval request creation to resolution.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s .. ~4.7 hours
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pending, m.resolved, m.latency}
}

// multiCollector bundles several prometheus.Collectors behind a single
// Collector, so a package that owns more than one instrument can still
// expose just one value for the host to register. client_golang's own
// Registry.MustRegister takes a variadic list instead of offering a
// ready-made "collector of collectors", so this is the small delegating
// wrapper that shape needs.
type multiCollector struct {
	collectors []prometheus.Collector
}

func (c multiCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, coll := range c.collectors {
		coll.Describe(ch)
	}
}

func (c multiCollector) Collect(ch chan<- prometheus.Metric) {
	for _, coll := range c.collectors {
		coll.Collect(ch)
	}
}
