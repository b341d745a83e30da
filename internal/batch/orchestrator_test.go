package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister []string

func (l staticLister) ListActivePortfolios(context.Context) ([]string, error) {
	return l, nil
}

type failingLister struct{ err error }

func (l failingLister) ListActivePortfolios(context.Context) ([]string, error) {
	return nil, l.err
}

// callRecorder collects phase invocations as "phase/portfolio" strings.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(phaseID, portfolioID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, phaseID+"/"+portfolioID)
}

func (r *callRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestOrchestrator(t *testing.T, registry *Registry, lister PortfolioLister) (*Orchestrator, *RunTracker) {
	t.Helper()
	tracker := NewRunTracker(testLogger())
	broadcaster := NewStatusBroadcaster(nil, testLogger())
	orch := NewOrchestrator(tracker, registry, lister, NewConfig(), broadcaster, nil, testLogger())
	return orch, tracker
}

func testDate() time.Time {
	return time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
}

func TestOrchestratorPhaseOrderPerPortfolio(t *testing.T) {
	recorder := &callRecorder{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("first", "First", nil,
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			recorder.record("first", portfolioID)
			return nil
		})))
	require.NoError(t, registry.Register(NewFuncPhase("second", "Second", []string{"first"},
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			recorder.record("second", portfolioID)
			return nil
		})))

	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a", "pf-b"})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, tracker.IsRunning(), "tracker must be cleared after a successful run")

	// Every "first" call precedes every "second" call; phase N+1 never
	// starts until phase N finished for all portfolios.
	calls := recorder.snapshot()
	require.Len(t, calls, 4)
	lastFirst, firstSecond := -1, len(calls)
	for i, c := range calls {
		switch {
		case c == "first/pf-a" || c == "first/pf-b":
			if i > lastFirst {
				lastFirst = i
			}
		default:
			if i < firstSecond {
				firstSecond = i
			}
		}
	}
	assert.Less(t, lastFirst, firstSecond)
}

func TestOrchestratorPartialFailureIsolation(t *testing.T) {
	recorder := &callRecorder{}
	boom := errors.New("upstream store unavailable")

	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("compute", "Compute", nil,
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			recorder.record("compute", portfolioID)
			if portfolioID == "pf-bad" {
				return boom
			}
			return nil
		})))
	require.NoError(t, registry.Register(NewFuncPhase("publish", "Publish", []string{"compute"},
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			recorder.record("publish", portfolioID)
			return nil
		})))

	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a", "pf-bad", "pf-c"})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.NoError(t, err, "per-portfolio failures must not fail the run")
	require.NotNil(t, result)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, tracker.IsRunning())

	bad := result.Portfolios["pf-bad"]
	assert.Equal(t, PhaseStatusFailed, bad.Status)
	assert.Equal(t, PhaseStatusFailed, bad.Phases["compute"].Status)
	assert.Contains(t, bad.Phases["compute"].Error, "upstream store unavailable")
	assert.Equal(t, PhaseStatusSkipped, bad.Phases["publish"].Status,
		"later phases skip a portfolio that already failed")

	for _, id := range []string{"pf-a", "pf-c"} {
		pr := result.Portfolios[id]
		assert.Equal(t, PhaseStatusCompleted, pr.Status)
		assert.Equal(t, PhaseStatusCompleted, pr.Phases["publish"].Status)
	}

	// The failed portfolio never reached the publish phase.
	assert.NotContains(t, recorder.snapshot(), "publish/pf-bad")
}

func TestOrchestratorValidatesBeforeTrackerStart(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(noopPhase("only")))
	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a"})

	cases := []struct {
		name string
		req  BatchRequest
	}{
		{"missing date", BatchRequest{PortfolioIDs: []string{"pf-a"}}},
		{"empty scope list", BatchRequest{CalculationDate: testDate(), PortfolioIDs: []string{}}},
		{"empty portfolio id", BatchRequest{CalculationDate: testDate(), PortfolioIDs: []string{"pf-a", ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := orch.RunDailyBatchSequence(context.Background(), tc.req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, IsInvalidArguments(err))
			assert.False(t, tracker.IsRunning(),
				"a rejected request must leave the tracker untouched")
		})
	}
}

func TestOrchestratorRejectsConcurrentRun(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(noopPhase("only")))
	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a"})

	// Simulate an in-flight run holding the gate.
	activeID, err := tracker.Start(testDate(), nil, "first")
	require.NoError(t, err)

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "second",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsAlreadyRunning(err))

	// The active run survives the rejection.
	current := tracker.Current()
	require.NotNil(t, current)
	assert.Equal(t, activeID, current.RunID)
}

func TestOrchestratorTrackerClearedOnScopeFailure(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(noopPhase("only")))

	orch, tracker := newTestOrchestrator(t, registry, failingLister{err: errors.New("portfolio service down")})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, ErrorTypeFatal, TypeOf(err))
	assert.False(t, tracker.IsRunning(), "tracker must be cleared on the failure path")
}

func TestOrchestratorPanicIsIsolatedToPortfolio(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("compute", "Compute", nil,
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			if portfolioID == "pf-panics" {
				panic("index out of range in position math")
			}
			return nil
		})))

	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a", "pf-panics"})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Portfolios["pf-panics"].Phases["compute"].Error, "panic")
	assert.False(t, tracker.IsRunning(), "tracker must be cleared even after a panic")
}

func TestOrchestratorCancellation(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(noopPhase("only")))
	orch, tracker := newTestOrchestrator(t, registry, staticLister{"pf-a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.RunDailyBatchSequence(ctx, BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCancellation, TypeOf(err))
	require.NotNil(t, result)
	assert.Equal(t, RunStatusCancelled, result.Status)
	assert.False(t, tracker.IsRunning(), "tracker must be cleared on cancellation")
}

func TestOrchestratorExplicitScope(t *testing.T) {
	recorder := &callRecorder{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("compute", "Compute", nil,
		func(_ context.Context, _ *RunContext, portfolioID string) error {
			recorder.record("compute", portfolioID)
			return nil
		})))

	// The lister must not be consulted when an explicit scope is given.
	orch, _ := newTestOrchestrator(t, registry, failingLister{err: errors.New("should not be called")})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		PortfolioIDs:    []string{"pf-only"},
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []string{"compute/pf-only"}, recorder.snapshot())
}

func TestOrchestratorBoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("compute", "Compute", nil,
		func(_ context.Context, _ *RunContext, _ string) error {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})))

	scope := make(staticLister, 12)
	for i := range scope {
		scope[i] = fmt.Sprintf("pf-%02d", i)
	}

	tracker := NewRunTracker(testLogger())
	cfg := NewConfig()
	cfg.MaxConcurrency = 3
	orch := NewOrchestrator(tracker, registry, scope, cfg, NewStatusBroadcaster(nil, testLogger()), nil, testLogger())

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Succeeded)
	assert.LessOrEqual(t, peak, 3)
}

func TestOrchestratorRunContextHandoff(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewFuncPhase("produce", "Produce", nil,
		func(_ context.Context, run *RunContext, portfolioID string) error {
			run.SetValue("produce:"+portfolioID, 42)
			return nil
		})))
	require.NoError(t, registry.Register(NewFuncPhase("consume", "Consume", []string{"produce"},
		func(_ context.Context, run *RunContext, portfolioID string) error {
			v, ok := run.Value("produce:" + portfolioID)
			if !ok {
				return errors.New("missing handoff value")
			}
			if v.(int) != 42 {
				return errors.New("wrong handoff value")
			}
			return nil
		})))

	orch, _ := newTestOrchestrator(t, registry, staticLister{"pf-a"})

	result, err := orch.RunDailyBatchSequence(context.Background(), BatchRequest{
		CalculationDate: testDate(),
		TriggeredBy:     "test",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
}
