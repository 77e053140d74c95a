package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage queue.
type Metrics struct {
	Depth              prometheus.Gauge
	HistoryDepth       prometheus.Gauge
	AdmissionsTotal    *prometheus.CounterVec
	AdvancesTotal      prometheus.Counter
	RetreatsTotal      prometheus.Counter
	DiscardsTotal      prometheus.Counter
	StaleRemovalsTotal prometheus.Counter
	EnrichmentsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns queue metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_queue_depth",
			Help: "Items currently in the active triage queue.",
		}),
		HistoryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_queue_history_depth",
			Help: "Items currently in the dismissed history.",
		}),
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_queue_admissions_total",
			Help: "Admission attempts by outcome.",
		}, []string{"outcome"}),
		AdvancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_queue_advances_total",
			Help: "Cursor advances.",
		}),
		RetreatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_queue_retreats_total",
			Help: "Cursor retreats.",
		}),
		DiscardsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_queue_discards_total",
			Help: "Items explicitly discarded.",
		}),
		StaleRemovalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_queue_stale_removals_total",
			Help: "Items removed because a newer revision superseded them.",
		}),
		EnrichmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_queue_enrichments_total",
			Help: "Enrichment results by whether they landed or arrived stale.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.Depth,
		m.HistoryDepth,
		m.AdmissionsTotal,
		m.AdvancesTotal,
		m.RetreatsTotal,
		m.DiscardsTotal,
		m.StaleRemovalsTotal,
		m.EnrichmentsTotal,
	)
	return m
}
