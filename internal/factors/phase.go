package factors

import (
	"context"

	"sigmasight/internal/batch"
)

// PhaseID identifies the factor exposure phase in the batch sequence.
const PhaseID = "factor_exposure"

// ExposurePhase adapts the engine into a batch phase. The orchestrator
// invokes it once per portfolio; failures stay scoped to that portfolio.
type ExposurePhase struct {
	batch.BasePhase
	engine *Engine
}

// NewExposurePhase creates the factor exposure phase.
func NewExposurePhase(engine *Engine, dependencies []string) *ExposurePhase {
	return &ExposurePhase{
		BasePhase: batch.NewBasePhase(PhaseID, "Factor Exposure Computation", dependencies),
		engine:    engine,
	}
}

// Run computes and persists exposures for one portfolio.
func (p *ExposurePhase) Run(ctx context.Context, run *batch.RunContext, portfolioID string) error {
	summary, err := p.engine.ComputeExposures(ctx, portfolioID, run.CalculationDate)
	if err != nil {
		return err
	}
	run.SetValue("factor_exposure:"+portfolioID, summary)
	return nil
}
