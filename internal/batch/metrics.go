package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes batch run instrumentation.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	PhaseDuration     *prometheus.HistogramVec
	PortfolioFailures *prometheus.CounterVec
}

// NewMetrics registers batch metrics against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Batch runs by final status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_run_duration_seconds",
			Help:    "Wall time of complete batch runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_phase_duration_seconds",
			Help:    "Wall time per phase across all portfolios.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"phase"}),
		PortfolioFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_portfolio_phase_failures_total",
			Help: "Per-portfolio phase failures by phase.",
		}, []string{"phase"}),
	}
}
