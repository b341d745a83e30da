// Package services composes the domain components into the application
// services the transport layer talks to.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sigmasight/internal/batch"
	"sigmasight/internal/domain"
	"sigmasight/internal/exposure"
	"sigmasight/internal/factors"
	"sigmasight/internal/marketdata"
	"sigmasight/internal/positions"
)

// Phase identifiers for the daily sequence. The calculation engines before
// and after factor exposure are opaque peers with the same failure
// isolation; the two shipped here are the minimal set this service needs.
const (
	PhaseIDMarketData = "market_data"
	PhaseIDRunSummary = "run_summary"
)

// BatchService owns the batch pipeline wiring: tracker, phase registry,
// orchestrator, async queue, and the read side for exposures.
type BatchService struct {
	tracker   *batch.RunTracker
	queue     *batch.JobQueue
	jobs      batch.JobStore
	exposures exposure.Store
	logger    *slog.Logger
}

// BatchServiceDeps carries the collaborators the service composes.
type BatchServiceDeps struct {
	Returns      marketdata.ReturnSource
	Positions    positions.Store
	Exposures    exposure.Store
	Hub          batch.Hub
	Registerer   prometheus.Registerer
	Config       *batch.Config
	QueueWorkers int
	Logger       *slog.Logger
}

// NewBatchService wires the daily batch pipeline: a market data warmup
// phase, the factor exposure phase, and a run summary phase, in that order.
func NewBatchService(deps BatchServiceDeps) (*BatchService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := batch.NewRunTracker(logger)
	broadcaster := batch.NewStatusBroadcaster(deps.Hub, logger)
	batchMetrics := batch.NewMetrics(deps.Registerer)
	engineMetrics := factors.NewMetrics(deps.Registerer)

	cfg := deps.Config
	if cfg == nil {
		cfg = batch.NewConfig()
	}

	engine := factors.NewEngine(deps.Returns, deps.Positions, deps.Exposures, nil, cfg.Concurrency(), logger, engineMetrics)

	registry := batch.NewRegistry()
	if err := registry.Register(newMarketDataPhase(deps.Returns, engine, logger)); err != nil {
		return nil, fmt.Errorf("register market data phase: %w", err)
	}
	if err := registry.Register(factors.NewExposurePhase(engine, []string{PhaseIDMarketData})); err != nil {
		return nil, fmt.Errorf("register factor exposure phase: %w", err)
	}
	if err := registry.Register(newRunSummaryPhase(logger)); err != nil {
		return nil, fmt.Errorf("register run summary phase: %w", err)
	}
	if err := registry.ValidateDependencies(); err != nil {
		return nil, fmt.Errorf("invalid phase graph: %w", err)
	}

	orchestrator := batch.NewOrchestrator(tracker, registry, deps.Positions, cfg, broadcaster, batchMetrics, logger)

	jobs := batch.NewMemoryJobStore()
	workers := deps.QueueWorkers
	if workers <= 0 {
		workers = 1
	}
	queue := batch.NewJobQueue(workers, jobs, orchestrator, logger)

	return &BatchService{
		tracker:   tracker,
		queue:     queue,
		jobs:      jobs,
		exposures: deps.Exposures,
		logger:    logger.With(slog.String("service", "batch")),
	}, nil
}

// newMarketDataPhase pre-fetches every benchmark series the factor universe
// needs so the exposure phase hits warm caches. Benchmarks are shared
// across portfolios, so reruns within the phase are cheap no-ops.
func newMarketDataPhase(returns marketdata.ReturnSource, engine *factors.Engine, logger *slog.Logger) batch.Phase {
	return batch.NewFuncPhase(PhaseIDMarketData, "Market Data Warmup", nil,
		func(ctx context.Context, run *batch.RunContext, portfolioID string) error {
			maxLookback := 0
			symbols := make(map[string]bool)
			for _, f := range engine.Factors() {
				if f.LookbackDays > maxLookback {
					maxLookback = f.LookbackDays
				}
				for _, s := range f.BenchmarkSymbols() {
					symbols[s] = true
				}
			}
			start := run.CalculationDate.AddDate(0, 0, -maxLookback)
			for symbol := range symbols {
				if _, err := returns.GetReturns(ctx, symbol, start, run.CalculationDate); err != nil {
					return fmt.Errorf("warm benchmark %s: %w", symbol, err)
				}
			}
			return nil
		})
}

// newRunSummaryPhase logs the per-portfolio engine summary recorded by the
// exposure phase.
func newRunSummaryPhase(logger *slog.Logger) batch.Phase {
	return batch.NewFuncPhase(PhaseIDRunSummary, "Run Summary", []string{factors.PhaseID},
		func(ctx context.Context, run *batch.RunContext, portfolioID string) error {
			v, ok := run.Value("factor_exposure:" + portfolioID)
			if !ok {
				return fmt.Errorf("no exposure summary recorded for portfolio %s", portfolioID)
			}
			summary, ok := v.(*factors.Summary)
			if !ok {
				return fmt.Errorf("unexpected summary type for portfolio %s", portfolioID)
			}
			logger.InfoContext(ctx, "portfolio run summary",
				slog.String("run_id", run.RunID),
				slog.String("portfolio_id", portfolioID),
				slog.Int("position_rows", summary.PositionRows),
				slog.Int("portfolio_rows", summary.PortfolioRows),
				slog.Int("fallbacks", summary.Fallbacks))
			return nil
		})
}

// Start launches the async job queue.
func (s *BatchService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the job queue.
func (s *BatchService) Stop(timeout time.Duration) error {
	return s.queue.Stop(timeout)
}

// Trigger validates and enqueues a batch run, returning immediately. The
// single-flight check here is advisory; the orchestrator re-checks
// atomically at tracker start.
func (s *BatchService) Trigger(_ context.Context, req batch.BatchRequest) (*batch.Job, error) {
	if req.CalculationDate.IsZero() {
		return nil, batch.NewInvalidArgumentsError("calculation_date is required and must be a date")
	}
	if req.PortfolioIDs != nil && len(req.PortfolioIDs) == 0 {
		return nil, batch.NewInvalidArgumentsError("portfolio_ids must be nil (all portfolios) or a non-empty list")
	}
	if current := s.tracker.Current(); current != nil {
		return nil, batch.NewAlreadyRunningError(current)
	}
	return s.queue.Enqueue(req)
}

// StatusResponse is the poll payload for the status endpoint.
type StatusResponse struct {
	State          string           `json:"state"` // idle | running | completed | failed
	RunID          string           `json:"run_id,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	ElapsedSeconds float64          `json:"elapsed_seconds,omitempty"`
	LastResult     *batch.RunResult `json:"last_result,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
}

// GetStatus reports the current run state backed by the Run Tracker, with
// the most recent finished job attached once idle. A failed run surfaces as
// state "failed" with its error so pollers see the failure, not a bare idle.
func (s *BatchService) GetStatus() StatusResponse {
	tracked := s.tracker.Status()
	resp := StatusResponse{
		State:          tracked.State,
		RunID:          tracked.RunID,
		StartedAt:      tracked.StartedAt,
		ElapsedSeconds: tracked.ElapsedSeconds,
	}
	if resp.State == "running" {
		return resp
	}

	jobs, err := s.jobs.ListJobs(1)
	if err != nil || len(jobs) == 0 {
		return resp
	}
	last := jobs[0]
	switch {
	case last.Status == batch.JobStatusCompleted && last.Result != nil:
		resp.State = "completed"
		resp.RunID = last.RunID
		resp.LastResult = last.Result
	case last.Status == batch.JobStatusFailed:
		resp.State = "failed"
		resp.RunID = last.RunID
		resp.LastResult = last.Result
		resp.LastError = last.Error
	}
	return resp
}

// GetJob returns a queued or finished job by id.
func (s *BatchService) GetJob(id string) (*batch.Job, error) {
	return s.jobs.GetJob(id)
}

// PortfolioExposures returns the aggregated exposure rows for one
// portfolio and date, completeness tags included.
func (s *BatchService) PortfolioExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PortfolioFactorExposure, error) {
	return s.exposures.GetPortfolioExposures(ctx, portfolioID, date)
}

// PositionExposures returns the position-level exposure rows for one
// portfolio and date.
func (s *BatchService) PositionExposures(ctx context.Context, portfolioID string, date time.Time) ([]domain.PositionFactorExposure, error) {
	return s.exposures.GetPositionExposures(ctx, portfolioID, date)
}
