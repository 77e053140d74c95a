package enrich

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the enrichment orchestrator.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
	WaitSeconds   prometheus.Histogram
}

// NewMetrics registers and returns enrichment metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_enrich_requests_total",
			Help: "Classifier requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		WaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patrol_enrich_wait_seconds",
			Help:    "Time spent waiting on the shared rate-limit watermark.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.WaitSeconds)
	return m
}
