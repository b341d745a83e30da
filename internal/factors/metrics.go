package factors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Regression outcome labels.
const (
	OutcomeOK               = "ok"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeZeroVariance     = "zero_variance"
	OutcomeNoReturnData     = "no_return_data"
)

// Metrics instruments the exposure engine.
type Metrics struct {
	RegressionsTotal *prometheus.CounterVec
	FallbacksTotal   prometheus.Counter
}

// NewMetrics registers engine metrics against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RegressionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factor_regressions_total",
			Help: "Per-position factor regressions by outcome.",
		}, []string{"outcome"}),
		FallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "factor_fallback_aggregations_total",
			Help: "Portfolio-level fallback regressions performed.",
		}),
	}
}

func (m *Metrics) observeRegression(outcome string) {
	if m == nil {
		return
	}
	m.RegressionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}
