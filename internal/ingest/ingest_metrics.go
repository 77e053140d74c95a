package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	PollsTotal    *prometheus.CounterVec
	EntriesTotal  *prometheus.CounterVec
	RetryInterval prometheus.Gauge
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_ingest_polls_total",
			Help: "Feed poll attempts by outcome.",
		}, []string{"outcome"}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_ingest_entries_total",
			Help: "Feed entries by disposition.",
		}, []string{"disposition"}),
		RetryInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_ingest_retry_interval_seconds",
			Help: "Current poll retry interval, including backoff.",
		}),
	}
	reg.MustRegister(m.PollsTotal, m.EntriesTotal, m.RetryInterval)
	return m
}
