package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigmasight/internal/batch"
	"sigmasight/internal/domain"
	"sigmasight/internal/exposure"
	"sigmasight/internal/factors"
	"sigmasight/internal/marketdata"
	"sigmasight/internal/positions"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dailySeries(seed, days int, asOf time.Time) domain.ReturnSeries {
	obs := make([]domain.Observation, 0, days)
	for i := 0; i < days; i++ {
		r := float64((seed*31+i*7)%13-6) / 1000.0
		obs = append(obs, domain.Observation{Date: asOf.AddDate(0, 0, -i), Return: r})
	}
	return domain.NewReturnSeries(obs)
}

type serviceFixture struct {
	service   *BatchService
	returns   *marketdata.MemorySource
	positions *positions.MemoryStore
	exposures *exposure.MemoryStore
	asOf      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	asOf := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)

	returns := marketdata.NewMemorySource()
	seed := 1
	for _, symbol := range []string{"SPY", "IWM", "VTV", "VUG", "MTUM", "QUAL", "USMV"} {
		returns.SetReturns(symbol, dailySeries(seed, 400, asOf))
		seed++
	}

	posStore := positions.NewMemoryStore()
	for p := 0; p < 2; p++ {
		portfolioID := fmt.Sprintf("pf-%d", p+1)
		holdings := make([]domain.Position, 0, 3)
		for i := 0; i < 3; i++ {
			symbol := fmt.Sprintf("EQ%d%d", p, i)
			returns.SetReturns(symbol, dailySeries(50+10*p+i, 400, asOf))
			holdings = append(holdings, domain.Position{
				ID:              fmt.Sprintf("pos-%d-%d", p, i),
				PortfolioID:     portfolioID,
				Symbol:          symbol,
				SignedQuantity:  100,
				MarketValue:     float64(10000 * (i + 1)),
				InstrumentClass: domain.InstrumentPublic,
			})
		}
		posStore.SetPositions(portfolioID, holdings)
	}

	expStore := exposure.NewMemoryStore()
	service, err := NewBatchService(BatchServiceDeps{
		Returns:      returns,
		Positions:    posStore,
		Exposures:    expStore,
		Registerer:   prometheus.NewRegistry(),
		Config:       batch.NewConfig(),
		QueueWorkers: 1,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	return &serviceFixture{
		service:   service,
		returns:   returns,
		positions: posStore,
		exposures: expStore,
		asOf:      asOf,
	}
}

func TestBatchServiceEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	f.service.Start(context.Background())
	defer f.service.Stop(2 * time.Second)

	job, err := f.service.Trigger(context.Background(), batch.BatchRequest{
		CalculationDate: f.asOf,
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	require.NotNil(t, job)

	require.Eventually(t, func() bool {
		got, err := f.service.GetJob(job.ID)
		return err == nil && got.Status == batch.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	finished, err := f.service.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.Result)
	assert.Equal(t, batch.RunStatusCompleted, finished.Result.Status)
	assert.Equal(t, 2, finished.Result.Succeeded)
	assert.Zero(t, finished.Result.Failed)

	// All three phases completed for each portfolio.
	for _, portfolioID := range []string{"pf-1", "pf-2"} {
		pr := finished.Result.Portfolios[portfolioID]
		for _, phaseID := range []string{PhaseIDMarketData, factors.PhaseID, PhaseIDRunSummary} {
			assert.Equal(t, batch.PhaseStatusCompleted, pr.Phases[phaseID].Status,
				"%s/%s", portfolioID, phaseID)
		}
	}

	rows, err := f.service.PortfolioExposures(context.Background(), "pf-1", f.asOf)
	require.NoError(t, err)
	assert.Len(t, rows, 11)

	posRows, err := f.service.PositionExposures(context.Background(), "pf-1", f.asOf)
	require.NoError(t, err)
	assert.Len(t, posRows, 33)

	// With the run finished, the poll surface reports completed plus the result.
	status := f.service.GetStatus()
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, finished.Result.RunID, status.RunID)
	require.NotNil(t, status.LastResult)
}

func TestBatchServicePortfolioFailureIsIsolated(t *testing.T) {
	f := newServiceFixture(t)
	f.positions.FailPortfolio("pf-2", assert.AnError)

	f.service.Start(context.Background())
	defer f.service.Stop(2 * time.Second)

	job, err := f.service.Trigger(context.Background(), batch.BatchRequest{
		CalculationDate: f.asOf,
		TriggeredBy:     "test",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.service.GetJob(job.ID)
		return err == nil && got.Status == batch.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	finished, err := f.service.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.Result)
	assert.Equal(t, 1, finished.Result.Succeeded)
	assert.Equal(t, 1, finished.Result.Failed)

	// The healthy portfolio's output is complete.
	rows, err := f.service.PortfolioExposures(context.Background(), "pf-1", f.asOf)
	require.NoError(t, err)
	assert.Len(t, rows, 11)

	// The broken portfolio produced nothing.
	rows, err = f.service.PortfolioExposures(context.Background(), "pf-2", f.asOf)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBatchServiceTriggerValidation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Trigger(context.Background(), batch.BatchRequest{TriggeredBy: "test"})
	require.Error(t, err)
	assert.True(t, batch.IsInvalidArguments(err))

	_, err = f.service.Trigger(context.Background(), batch.BatchRequest{
		CalculationDate: f.asOf,
		PortfolioIDs:    []string{},
	})
	require.Error(t, err)
	assert.True(t, batch.IsInvalidArguments(err))
}

func TestBatchServiceStatusReportsFailedRun(t *testing.T) {
	f := newServiceFixture(t)
	f.service.Start(context.Background())
	defer f.service.Stop(2 * time.Second)

	// Occupy the tracker so the queued run fails at orchestration time,
	// bypassing the advisory check in Trigger.
	runID, err := f.service.tracker.Start(f.asOf, nil, "blocker")
	require.NoError(t, err)

	job, err := f.service.queue.Enqueue(batch.BatchRequest{
		CalculationDate: f.asOf,
		TriggeredBy:     "test",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.service.GetJob(job.ID)
		return err == nil && got.Status == batch.JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	f.service.tracker.Complete(runID)

	// The poll surface must expose the failure, not report a bare idle.
	status := f.service.GetStatus()
	assert.Equal(t, "failed", status.State)
	assert.Contains(t, status.LastError, "already active")
	assert.Nil(t, status.StartedAt)
}

func TestBatchServiceStatusIdle(t *testing.T) {
	f := newServiceFixture(t)
	status := f.service.GetStatus()
	assert.Equal(t, "idle", status.State)
	assert.Empty(t, status.RunID)
	assert.Nil(t, status.LastResult)
}
