package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the filing pipeline.
type Metrics struct {
	FilingsSubmitted prometheus.Counter
	FilingsPerfected prometheus.Counter
	FilingsFailed    prometheus.Counter
	ActiveRuns       prometheus.Gauge
	RunDuration      prometheus.Histogram
}

// New creates and registers the filing metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilingsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chargegate_filings_submitted_total",
			Help: "Total number of filing runs started",
		}),
		FilingsPerfected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chargegate_filings_perfected_total",
			Help: "Total number of filings that reached perfected status",
		}),
		FilingsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chargegate_filings_failed_total",
			Help: "Total number of filings that ended in failed status",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chargegate_filing_runs_active",
			Help: "Number of automation runs currently in flight",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chargegate_filing_run_duration_seconds",
			Help:    "Wall time of automation runs from start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
