package factors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sigmasight/internal/domain"
	"sigmasight/internal/exposure"
	"sigmasight/internal/marketdata"
	"sigmasight/internal/positions"
)

// Summary reports what one portfolio's exposure computation produced.
type Summary struct {
	PortfolioID        string    `json:"portfolio_id"`
	CalculationDate    time.Time `json:"calculation_date"`
	EligiblePositions  int       `json:"eligible_positions"`
	PositionRows       int       `json:"position_rows"`
	PortfolioRows      int       `json:"portfolio_rows"`
	Fallbacks          int       `json:"fallbacks"`
	SkippedRegressions int       `json:"skipped_regressions"`
}

// Engine computes and persists factor betas for one portfolio as of one
// calculation date. Regression work is pure; the only side effect is the
// final persistence write, so per-position work parallelizes safely.
type Engine struct {
	returns     marketdata.ReturnSource
	positions   positions.Store
	store       exposure.Store
	factors     []FactorDefinition
	concurrency int
	logger      *slog.Logger
	metrics     *Metrics
}

// NewEngine creates an exposure engine. A nil factor list uses the default
// universe; metrics are optional.
func NewEngine(returns marketdata.ReturnSource, posStore positions.Store, expStore exposure.Store, factorDefs []FactorDefinition, concurrency int, logger *slog.Logger, metrics *Metrics) *Engine {
	if factorDefs == nil {
		factorDefs = DefaultFactors()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		returns:     returns,
		positions:   posStore,
		store:       expStore,
		factors:     factorDefs,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "factors.engine")),
		metrics:     metrics,
	}
}

// Factors returns the engine's factor universe.
func (e *Engine) Factors() []FactorDefinition {
	return append([]FactorDefinition(nil), e.factors...)
}

// ComputeExposures runs the full per-position regression and aggregation
// for one portfolio. A returned error fails this portfolio only; data
// insufficiency inside never surfaces as an error, it produces absent rows
// or fallback-tagged rows.
func (e *Engine) ComputeExposures(ctx context.Context, portfolioID string, asOf time.Time) (*Summary, error) {
	asOf = domain.Day(asOf)

	holdings, err := e.positions.GetPositions(ctx, portfolioID, asOf)
	if err != nil {
		return nil, fmt.Errorf("fetch positions for %s: %w", portfolioID, err)
	}

	var eligible []domain.Position
	var netMarketValue float64
	for _, pos := range holdings {
		netMarketValue += pos.MarketValue
		if pos.RegressionEligible() {
			eligible = append(eligible, pos)
		}
	}

	maxLookback := 0
	for _, f := range e.factors {
		if f.LookbackDays > maxLookback {
			maxLookback = f.LookbackDays
		}
	}
	windowStart := asOf.AddDate(0, 0, -maxLookback)

	benchmarks, err := e.fetchBenchmarkSeries(ctx, windowStart, asOf)
	if err != nil {
		return nil, err
	}
	positionSeries := e.fetchPositionSeries(ctx, holdings, windowStart, asOf)

	summary := &Summary{
		PortfolioID:       portfolioID,
		CalculationDate:   asOf,
		EligiblePositions: len(eligible),
	}

	var positionRows []domain.PositionFactorExposure
	var portfolioRows []domain.PortfolioFactorExposure

	for _, factor := range e.factors {
		factorStart := asOf.AddDate(0, 0, -factor.LookbackDays)
		factorSeries := e.factorSeries(factor, benchmarks, factorStart, asOf)

		betas := e.regressPositions(ctx, factor, factorSeries, eligible, positionSeries, factorStart, asOf, summary)
		for _, row := range betas {
			row.PortfolioID = portfolioID
			row.CalculationDate = asOf
			positionRows = append(positionRows, row)
		}

		aggregated, ok := e.aggregate(factor, betas, eligible, netMarketValue)
		if !ok {
			// Zero contributors: degrade to a direct regression of the
			// portfolio's own aggregate return series.
			aggregated, ok = e.fallback(factor, factorSeries, holdings, positionSeries, netMarketValue)
			if ok {
				summary.Fallbacks++
				e.metrics.observeFallback()
				e.logger.InfoContext(ctx, "fallback aggregation used",
					slog.String("portfolio_id", portfolioID),
					slog.String("factor", factor.Name))
			}
		}
		if ok {
			aggregated.PortfolioID = portfolioID
			aggregated.CalculationDate = asOf
			portfolioRows = append(portfolioRows, aggregated)
		} else {
			e.logger.WarnContext(ctx, "no exposure computable for factor",
				slog.String("portfolio_id", portfolioID),
				slog.String("factor", factor.Name))
		}
	}

	if err := e.store.UpsertPositionExposures(ctx, portfolioID, asOf, positionRows); err != nil {
		return nil, fmt.Errorf("persist position exposures for %s: %w", portfolioID, err)
	}
	if err := e.store.UpsertPortfolioExposures(ctx, portfolioID, asOf, portfolioRows); err != nil {
		return nil, fmt.Errorf("persist portfolio exposures for %s: %w", portfolioID, err)
	}

	summary.PositionRows = len(positionRows)
	summary.PortfolioRows = len(portfolioRows)

	e.logger.InfoContext(ctx, "exposures computed",
		slog.String("portfolio_id", portfolioID),
		slog.String("calculation_date", asOf.Format("2006-01-02")),
		slog.Int("position_rows", summary.PositionRows),
		slog.Int("portfolio_rows", summary.PortfolioRows),
		slog.Int("fallbacks", summary.Fallbacks),
		slog.Int("skipped", summary.SkippedRegressions))

	return summary, nil
}

// fetchBenchmarkSeries loads every benchmark symbol the factor universe
// needs. Benchmarks are required: a missing one fails the portfolio's
// factor computation.
func (e *Engine) fetchBenchmarkSeries(ctx context.Context, start, end time.Time) (map[string]domain.ReturnSeries, error) {
	symbols := make(map[string]bool)
	for _, f := range e.factors {
		for _, s := range f.BenchmarkSymbols() {
			symbols[s] = true
		}
	}

	out := make(map[string]domain.ReturnSeries, len(symbols))
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)

	for symbol := range symbols {
		symbol := symbol
		group.Go(func() error {
			series, err := e.returns.GetReturns(gctx, symbol, start, end)
			if err != nil {
				return fmt.Errorf("benchmark %s: %w", symbol, err)
			}
			mu.Lock()
			out[symbol] = series
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchPositionSeries loads return series per distinct position symbol.
// Symbols the accessor has no data for are simply absent from the result;
// their regressions are skipped like any other insufficiency.
func (e *Engine) fetchPositionSeries(ctx context.Context, holdings []domain.Position, start, end time.Time) map[string]domain.ReturnSeries {
	symbols := make(map[string]bool)
	for _, pos := range holdings {
		if pos.RegressionEligible() {
			symbols[pos.Symbol] = true
		}
	}

	out := make(map[string]domain.ReturnSeries, len(symbols))
	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(e.concurrency)

	for symbol := range symbols {
		symbol := symbol
		group.Go(func() error {
			series, err := e.returns.GetReturns(ctx, symbol, start, end)
			if err != nil {
				if !errors.Is(err, marketdata.ErrNoReturnData) {
					e.logger.WarnContext(ctx, "return series fetch failed",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()))
				}
				e.metrics.observeRegression(OutcomeNoReturnData)
				return nil
			}
			mu.Lock()
			out[symbol] = series
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return out
}

// factorSeries builds the regression target for a factor over its window.
// Spread factors are the date-aligned difference of the two benchmark legs.
func (e *Engine) factorSeries(factor FactorDefinition, benchmarks map[string]domain.ReturnSeries, start, end time.Time) domain.ReturnSeries {
	long := benchmarks[factor.Benchmark].Window(start, end)
	if !factor.IsSpread() {
		return long
	}
	short := benchmarks[factor.ShortBenchmark].Window(start, end)
	return domain.Spread(long, short)
}

// regressPositions runs the per-position OLS regressions for one factor in
// parallel, returning only the successful betas.
func (e *Engine) regressPositions(ctx context.Context, factor FactorDefinition, factorSeries domain.ReturnSeries, eligible []domain.Position, positionSeries map[string]domain.ReturnSeries, start, end time.Time, summary *Summary) []domain.PositionFactorExposure {
	var mu sync.Mutex
	var rows []domain.PositionFactorExposure
	skipped := 0

	var group errgroup.Group
	group.SetLimit(e.concurrency)

	for _, pos := range eligible {
		pos := pos
		group.Go(func() error {
			series, ok := positionSeries[pos.Symbol]
			if !ok {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			x, y := domain.Align(factorSeries, series.Window(start, end))
			result, err := Regress(y, x, factor.MinRequiredDays)
			if err != nil {
				outcome := OutcomeInsufficientData
				if errors.Is(err, ErrZeroVariance) {
					outcome = OutcomeZeroVariance
				}
				e.metrics.observeRegression(outcome)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			e.metrics.observeRegression(OutcomeOK)
			mu.Lock()
			rows = append(rows, domain.PositionFactorExposure{
				PositionID:   pos.ID,
				FactorName:   factor.Name,
				Beta:         result.Beta,
				Observations: result.Observations,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	summary.SkippedRegressions += skipped
	return rows
}

// aggregate folds position betas into a portfolio beta weighted by signed
// market value. Returns ok=false when nothing contributed (or the
// contributing weights cancel out), which routes the factor to fallback.
func (e *Engine) aggregate(factor FactorDefinition, betas []domain.PositionFactorExposure, eligible []domain.Position, netMarketValue float64) (domain.PortfolioFactorExposure, bool) {
	if len(betas) == 0 {
		return domain.PortfolioFactorExposure{}, false
	}

	marketValueByID := make(map[string]float64, len(eligible))
	for _, pos := range eligible {
		marketValueByID[pos.ID] = pos.MarketValue
	}

	var weightSum, weighted float64
	for _, row := range betas {
		mv := marketValueByID[row.PositionID]
		weightSum += mv
		weighted += mv * row.Beta
	}
	if weightSum == 0 {
		// Longs and shorts cancel exactly; a weighted average is undefined.
		return domain.PortfolioFactorExposure{}, false
	}

	beta := weighted / weightSum
	completeness := domain.CompletenessFull
	if len(betas) < len(eligible) {
		completeness = domain.CompletenessPartial
	}
	return domain.PortfolioFactorExposure{
		FactorName:     factor.Name,
		Beta:           beta,
		DollarExposure: beta * netMarketValue,
		Completeness:   completeness,
	}, true
}

// fallback regresses the portfolio's own aggregate return series against
// the factor series. The aggregate includes every holding weighted by
// signed market value; holdings without a return series contribute weight
// but no movement, the same dilution a statically valued asset causes.
func (e *Engine) fallback(factor FactorDefinition, factorSeries domain.ReturnSeries, holdings []domain.Position, positionSeries map[string]domain.ReturnSeries, netMarketValue float64) (domain.PortfolioFactorExposure, bool) {
	if len(holdings) == 0 || netMarketValue == 0 {
		return domain.PortfolioFactorExposure{}, false
	}

	series := make([]domain.ReturnSeries, 0, len(holdings))
	weights := make([]float64, 0, len(holdings))
	for _, pos := range holdings {
		series = append(series, positionSeries[pos.Symbol])
		weights = append(weights, pos.MarketValue)
	}
	portfolioSeries := domain.WeightedCombine(series, weights)

	x, y := domain.Align(factorSeries, portfolioSeries)
	result, err := Regress(y, x, factor.MinRequiredDays)
	if err != nil {
		return domain.PortfolioFactorExposure{}, false
	}

	return domain.PortfolioFactorExposure{
		FactorName:     factor.Name,
		Beta:           result.Beta,
		DollarExposure: result.Beta * netMarketValue,
		Completeness:   domain.CompletenessFallback,
	}, true
}
