package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// PortfolioLister resolves the "all active portfolios" scope.
type PortfolioLister interface {
	ListActivePortfolios(ctx context.Context) ([]string, error)
}

// BatchRequest is the trigger contract for a daily batch run.
type BatchRequest struct {
	// CalculationDate is the as-of date every phase computes for. Required.
	CalculationDate time.Time

	// PortfolioIDs restricts scope to exactly these portfolios. Nil means
	// all active portfolios; an explicit empty list is a contract violation.
	PortfolioIDs []string

	// TriggeredBy identifies the caller for the run record.
	TriggeredBy string
}

// Orchestrator sequences the phases of a daily batch run across a portfolio
// scope, with single-flight gating and guaranteed tracker cleanup.
type Orchestrator struct {
	tracker     *RunTracker
	registry    *Registry
	config      *Config
	portfolios  PortfolioLister
	broadcaster *StatusBroadcaster
	metrics     *Metrics
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator with its dependencies injected.
// Broadcaster and metrics are optional.
func NewOrchestrator(tracker *RunTracker, registry *Registry, portfolios PortfolioLister, config *Config, broadcaster *StatusBroadcaster, metrics *Metrics, logger *slog.Logger) *Orchestrator {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tracker:     tracker,
		registry:    registry,
		config:      config,
		portfolios:  portfolios,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "batch.orchestrator")),
	}
}

// RunDailyBatchSequence executes the ordered phase sequence for one
// calculation date. Per-portfolio failures within a phase are recorded in
// the result and never abort sibling portfolios; the Run Tracker is cleared
// on every exit path, including panics and cancellation.
func (o *Orchestrator) RunDailyBatchSequence(ctx context.Context, req BatchRequest) (result *RunResult, err error) {
	if verr := o.validateRequest(req); verr != nil {
		return nil, verr
	}

	calculationDate := req.CalculationDate.UTC().Truncate(24 * time.Hour)

	runID, err := o.tracker.Start(calculationDate, req.PortfolioIDs, req.TriggeredBy)
	if err != nil {
		return nil, err
	}

	tracer := otel.Tracer("sigmasight/batch")
	ctx, span := tracer.Start(ctx, "batch.run_daily_sequence")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.calculation_date", calculationDate.Format("2006-01-02")),
	)

	// The tracker must be cleared no matter how this returns: normal
	// completion, error, cancellation, or a panic escaping the phase loop.
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.ErrorContext(ctx, "panic escaped phase loop",
				slog.String("run_id", runID),
				slog.Any("panic", rec))
			err = NewFatalError(fmt.Sprintf("panic during batch run: %v", rec), nil)
			if result != nil {
				result.Status = RunStatusFailed
				result.Error = err.Error()
			}
			span.RecordError(err)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		o.tracker.Complete(runID)
		span.End()
	}()

	if o.config.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RunDeadline)
		defer cancel()
	}

	scope, err := o.resolveScope(ctx, req.PortfolioIDs)
	if err != nil {
		o.observeRun(RunStatusFailed, 0)
		return nil, NewFatalError("failed to resolve portfolio scope", err)
	}

	phases, err := o.registry.DependencyOrder()
	if err != nil {
		o.observeRun(RunStatusFailed, 0)
		return nil, NewFatalError("failed to order phases", err)
	}

	phaseIDs := make([]string, len(phases))
	for i, p := range phases {
		phaseIDs[i] = p.ID()
	}

	state := NewRunState(runID, calculationDate, scope, phaseIDs)
	runCtx := NewRunContext(runID, calculationDate, req.TriggeredBy)
	o.broadcaster.RunStarted(runID, calculationDate, len(scope))
	span.SetAttributes(
		attribute.Int("run.portfolios", len(scope)),
		attribute.Int("run.phases", len(phases)),
	)

	o.logger.InfoContext(ctx, "batch run starting",
		slog.String("run_id", runID),
		slog.String("calculation_date", calculationDate.Format("2006-01-02")),
		slog.Int("portfolios", len(scope)),
		slog.Int("phases", len(phases)))

	for _, phase := range phases {
		if cerr := ctx.Err(); cerr != nil {
			state.Cancel()
			result = state.Result()
			o.observeRun(RunStatusCancelled, time.Since(state.StartTime).Seconds())
			o.broadcaster.RunFinished(result)
			return result, NewCancellationError(phase.ID())
		}
		o.runPhase(ctx, state, runCtx, phase, scope)
	}

	state.Complete()
	result = state.Result()
	if result.Failed > 0 {
		o.logger.WarnContext(ctx, "batch run completed with portfolio failures",
			slog.String("run_id", runID),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("failed", result.Failed))
	} else {
		o.logger.InfoContext(ctx, "batch run completed",
			slog.String("run_id", runID),
			slog.Int("succeeded", result.Succeeded))
	}
	o.observeRun(result.Status, result.Duration.Seconds())
	o.broadcaster.RunFinished(result)
	return result, nil
}

// runPhase fans the phase out across the scope on a bounded worker pool.
// Each portfolio's outcome lands in the shared state; a failing portfolio
// never unwinds past its own boundary.
func (o *Orchestrator) runPhase(ctx context.Context, state *RunState, runCtx *RunContext, phase Phase, scope []string) {
	phaseID := phase.ID()
	state.SetCurrentPhase(phaseID)
	o.broadcaster.PhaseStarted(state.RunID, phaseID)
	phaseStart := time.Now()

	var group errgroup.Group
	group.SetLimit(o.config.Concurrency())

	for _, portfolioID := range scope {
		portfolioID := portfolioID
		group.Go(func() error {
			if state.PortfolioFailed(portfolioID) {
				state.SkipPhase(portfolioID, phaseID, "portfolio failed in an earlier phase")
				return nil
			}
			o.runPortfolioPhase(ctx, state, runCtx, phase, portfolioID)
			return nil
		})
	}
	// Workers always return nil; failures are collected in the run state.
	_ = group.Wait()

	failed := 0
	for _, portfolioID := range scope {
		if outcome, ok := state.Outcome(portfolioID, phaseID); ok && outcome.Status == PhaseStatusFailed {
			failed++
		}
	}
	if o.metrics != nil {
		o.metrics.PhaseDuration.WithLabelValues(phaseID).Observe(time.Since(phaseStart).Seconds())
	}
	o.broadcaster.PhaseFinished(state.RunID, phaseID, failed)
}

// runPortfolioPhase executes one phase for one portfolio under the phase
// timeout, converting panics and errors into a recorded failure.
func (o *Orchestrator) runPortfolioPhase(ctx context.Context, state *RunState, runCtx *RunContext, phase Phase, portfolioID string) {
	phaseID := phase.ID()
	state.StartPhase(portfolioID, phaseID)

	phaseCtx, cancel := context.WithTimeout(ctx, o.config.PhaseTimeout(phaseID))
	defer cancel()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = NewFatalError(fmt.Sprintf("panic in phase %s: %v", phaseID, rec), nil)
			}
		}()
		return phase.Run(phaseCtx, runCtx, portfolioID)
	}()

	if err != nil {
		state.FailPhase(portfolioID, phaseID, err)
		if o.metrics != nil {
			o.metrics.PortfolioFailures.WithLabelValues(phaseID).Inc()
		}
		o.logger.WarnContext(ctx, "portfolio phase failed",
			slog.String("run_id", state.RunID),
			slog.String("phase", phaseID),
			slog.String("portfolio_id", portfolioID),
			slog.String("error", err.Error()))
		return
	}
	state.CompletePhase(portfolioID, phaseID)
}

func (o *Orchestrator) validateRequest(req BatchRequest) error {
	if req.CalculationDate.IsZero() {
		return NewInvalidArgumentsError("calculation_date is required and must be a date")
	}
	if req.PortfolioIDs != nil {
		if len(req.PortfolioIDs) == 0 {
			return NewInvalidArgumentsError("portfolio_ids must be nil (all portfolios) or a non-empty list")
		}
		for _, id := range req.PortfolioIDs {
			if id == "" {
				return NewInvalidArgumentsError("portfolio_ids must not contain empty identifiers")
			}
		}
	}
	return nil
}

func (o *Orchestrator) resolveScope(ctx context.Context, portfolioIDs []string) ([]string, error) {
	if portfolioIDs != nil {
		return portfolioIDs, nil
	}
	if o.portfolios == nil {
		return nil, fmt.Errorf("no portfolio lister configured")
	}
	return o.portfolios.ListActivePortfolios(ctx)
}

func (o *Orchestrator) observeRun(status RunStatus, seconds float64) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	if seconds > 0 {
		o.metrics.RunDuration.Observe(seconds)
	}
}
