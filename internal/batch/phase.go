package batch

import (
	"context"
	"sync"
	"time"
)

// Phase is one stage of the daily batch sequence. The orchestrator invokes
// Run once per portfolio; implementations must be safe for concurrent calls
// across portfolios and must scope failures to the given portfolio.
type Phase interface {
	// ID returns the unique identifier for this phase.
	ID() string

	// Name returns the human-readable name for this phase.
	Name() string

	// Dependencies returns the IDs of phases that must complete before this
	// phase starts, for any portfolio.
	Dependencies() []string

	// Run executes the phase for a single portfolio.
	Run(ctx context.Context, run *RunContext, portfolioID string) error
}

// RunContext carries run-wide metadata and a shared key/value space that
// phases use to hand data to later phases.
type RunContext struct {
	RunID           string
	CalculationDate time.Time
	TriggeredBy     string

	mu     sync.RWMutex
	values map[string]interface{}
}

// NewRunContext creates a run context for one batch run.
func NewRunContext(runID string, calculationDate time.Time, triggeredBy string) *RunContext {
	return &RunContext{
		RunID:           runID,
		CalculationDate: calculationDate,
		TriggeredBy:     triggeredBy,
		values:          make(map[string]interface{}),
	}
}

// Value retrieves a shared value set by an earlier phase.
func (rc *RunContext) Value(key string) (interface{}, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// SetValue stores a shared value for later phases.
func (rc *RunContext) SetValue(key string, value interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// BasePhase provides the identity plumbing common to phase implementations.
type BasePhase struct {
	id           string
	name         string
	dependencies []string
}

// NewBasePhase creates a base phase.
func NewBasePhase(id, name string, dependencies []string) BasePhase {
	if dependencies == nil {
		dependencies = []string{}
	}
	return BasePhase{id: id, name: name, dependencies: dependencies}
}

// ID returns the phase ID.
func (b *BasePhase) ID() string { return b.id }

// Name returns the phase name.
func (b *BasePhase) Name() string { return b.name }

// Dependencies returns the phase dependencies.
func (b *BasePhase) Dependencies() []string { return b.dependencies }

// FuncPhase adapts a function into a Phase. The calculation engines that
// precede and follow factor exposure plug in through this adapter; they get
// the same per-portfolio failure isolation as every other phase.
type FuncPhase struct {
	BasePhase
	fn func(ctx context.Context, run *RunContext, portfolioID string) error
}

// NewFuncPhase creates a phase from a function.
func NewFuncPhase(id, name string, dependencies []string, fn func(ctx context.Context, run *RunContext, portfolioID string) error) *FuncPhase {
	return &FuncPhase{BasePhase: NewBasePhase(id, name, dependencies), fn: fn}
}

// Run invokes the wrapped function.
func (p *FuncPhase) Run(ctx context.Context, run *RunContext, portfolioID string) error {
	return p.fn(ctx, run, portfolioID)
}
