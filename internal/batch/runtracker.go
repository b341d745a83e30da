package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchRun is the ephemeral record of an in-flight batch run. It lives only
// inside the RunTracker and is destroyed when the run ends, success or
// failure. At most one BatchRun exists at any time.
type BatchRun struct {
	RunID           string    `json:"run_id"`
	CalculationDate time.Time `json:"calculation_date"`
	PortfolioScope  []string  `json:"portfolio_scope,omitempty"` // nil = all active portfolios
	StartedAt       time.Time `json:"started_at"`
	TriggeredBy     string    `json:"triggered_by"`
}

// TrackerStatus is the poll-friendly snapshot exposed to the API layer.
type TrackerStatus struct {
	State          string     `json:"state"` // idle | running
	RunID          string     `json:"run_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
}

// RunTracker gates batch execution to a single flight per process and
// exposes current-run status for polling. It is an injectable service, not
// ambient global state; Start and Complete are its only mutators.
type RunTracker struct {
	mu      sync.RWMutex
	current *BatchRun
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunTracker creates a run tracker.
func NewRunTracker(logger *slog.Logger) *RunTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunTracker{
		logger: logger.With(slog.String("component", "runtracker")),
		now:    time.Now,
	}
}

// Start registers a new batch run and returns its id. It fails with an
// already_running error if a run is active, leaving that run untouched.
func (t *RunTracker) Start(calculationDate time.Time, portfolioScope []string, triggeredBy string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return "", NewAlreadyRunningError(t.snapshotLocked())
	}

	run := &BatchRun{
		RunID:           uuid.NewString(),
		CalculationDate: calculationDate,
		StartedAt:       t.now(),
		TriggeredBy:     triggeredBy,
	}
	if len(portfolioScope) > 0 {
		run.PortfolioScope = append([]string(nil), portfolioScope...)
	}
	t.current = run

	t.logger.Info("batch run started",
		slog.String("run_id", run.RunID),
		slog.String("calculation_date", run.CalculationDate.Format("2006-01-02")),
		slog.Int("scope_size", len(run.PortfolioScope)),
		slog.String("triggered_by", triggeredBy))

	return run.RunID, nil
}

// Complete clears the tracked run if runID matches the active one. A
// mismatched or repeated call is a no-op, never an error, so cleanup paths
// may call it unconditionally.
func (t *RunTracker) Complete(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.RunID != runID {
		return
	}

	t.logger.Info("batch run cleared",
		slog.String("run_id", runID),
		slog.Duration("elapsed", t.now().Sub(t.current.StartedAt)))
	t.current = nil
}

// IsRunning reports whether a batch run is active.
func (t *RunTracker) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current != nil
}

// Current returns a copy of the active run, or nil when idle.
func (t *RunTracker) Current() *BatchRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Status returns the poll snapshot backed by the tracked run.
func (t *RunTracker) Status() TrackerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return TrackerStatus{State: "idle"}
	}
	started := t.current.StartedAt
	return TrackerStatus{
		State:          "running",
		RunID:          t.current.RunID,
		StartedAt:      &started,
		ElapsedSeconds: t.now().Sub(started).Seconds(),
	}
}

func (t *RunTracker) snapshotLocked() *BatchRun {
	if t.current == nil {
		return nil
	}
	cp := *t.current
	if t.current.PortfolioScope != nil {
		cp.PortfolioScope = append([]string(nil), t.current.PortfolioScope...)
	}
	return &cp
}
