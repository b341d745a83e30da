package batch

import (
	"sync"
	"time"
)

// RunStatus is the overall status of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// PhaseStatus is the status of one phase for one portfolio.
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusActive    PhaseStatus = "active"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// PhaseOutcome records how one phase ended for one portfolio.
type PhaseOutcome struct {
	Status    PhaseStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// RunState is the mutable, mutex-guarded state of an executing run. Phases
// for different portfolios update it concurrently.
type RunState struct {
	mu sync.RWMutex

	RunID           string
	CalculationDate time.Time
	Status          RunStatus
	CurrentPhase    string
	StartTime       time.Time
	EndTime         *time.Time
	Err             error

	portfolios []string
	// outcomes[portfolioID][phaseID]
	outcomes map[string]map[string]*PhaseOutcome
}

// NewRunState creates run state covering the given portfolios and phases,
// with every cell pending.
func NewRunState(runID string, calculationDate time.Time, portfolioIDs, phaseIDs []string) *RunState {
	outcomes := make(map[string]map[string]*PhaseOutcome, len(portfolioIDs))
	for _, pid := range portfolioIDs {
		cells := make(map[string]*PhaseOutcome, len(phaseIDs))
		for _, phID := range phaseIDs {
			cells[phID] = &PhaseOutcome{Status: PhaseStatusPending}
		}
		outcomes[pid] = cells
	}
	return &RunState{
		RunID:           runID,
		CalculationDate: calculationDate,
		Status:          RunStatusRunning,
		StartTime:       time.Now(),
		portfolios:      append([]string(nil), portfolioIDs...),
		outcomes:        outcomes,
	}
}

// StartPhase marks a phase active for a portfolio.
func (s *RunState) StartPhase(portfolioID, phaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell := s.cellLocked(portfolioID, phaseID); cell != nil {
		now := time.Now()
		cell.Status = PhaseStatusActive
		cell.StartedAt = &now
	}
}

// CompletePhase marks a phase completed for a portfolio.
func (s *RunState) CompletePhase(portfolioID, phaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell := s.cellLocked(portfolioID, phaseID); cell != nil {
		now := time.Now()
		cell.Status = PhaseStatusCompleted
		cell.EndedAt = &now
	}
}

// FailPhase marks a phase failed for a portfolio with the causing error.
func (s *RunState) FailPhase(portfolioID, phaseID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell := s.cellLocked(portfolioID, phaseID); cell != nil {
		now := time.Now()
		cell.Status = PhaseStatusFailed
		cell.EndedAt = &now
		if err != nil {
			cell.Error = err.Error()
		}
	}
}

// SkipPhase marks a phase skipped for a portfolio, recording the reason.
func (s *RunState) SkipPhase(portfolioID, phaseID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell := s.cellLocked(portfolioID, phaseID); cell != nil {
		now := time.Now()
		cell.Status = PhaseStatusSkipped
		cell.EndedAt = &now
		cell.Error = reason
	}
}

// SetCurrentPhase records which phase the run is in, for status reporting.
func (s *RunState) SetCurrentPhase(phaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentPhase = phaseID
}

// PortfolioFailed reports whether any phase has failed for the portfolio.
// Later phases consult this to skip portfolios that are already lost.
func (s *RunState) PortfolioFailed(portfolioID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cell := range s.outcomes[portfolioID] {
		if cell.Status == PhaseStatusFailed {
			return true
		}
	}
	return false
}

// Outcome returns a copy of the outcome cell for a portfolio/phase pair.
func (s *RunState) Outcome(portfolioID, phaseID string) (PhaseOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.cellLocked(portfolioID, phaseID)
	if cell == nil {
		return PhaseOutcome{}, false
	}
	return *cell, true
}

// Complete marks the run completed.
func (s *RunState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusCompleted
}

// Fail marks the run failed.
func (s *RunState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusFailed
	s.Err = err
}

// Cancel marks the run cancelled.
func (s *RunState) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusCancelled
}

func (s *RunState) cellLocked(portfolioID, phaseID string) *PhaseOutcome {
	cells, ok := s.outcomes[portfolioID]
	if !ok {
		return nil
	}
	return cells[phaseID]
}

// PortfolioResult summarizes one portfolio's run.
type PortfolioResult struct {
	PortfolioID string                  `json:"portfolio_id"`
	Status      PhaseStatus             `json:"status"` // completed, failed or skipped
	Phases      map[string]PhaseOutcome `json:"phases"`
}

// RunResult is the immutable per-portfolio, per-phase status map plus run
// metadata returned to the trigger caller.
type RunResult struct {
	RunID           string                     `json:"run_id"`
	CalculationDate time.Time                  `json:"calculation_date"`
	Status          RunStatus                  `json:"status"`
	StartTime       time.Time                  `json:"start_time"`
	EndTime         *time.Time                 `json:"end_time,omitempty"`
	Duration        time.Duration              `json:"duration"`
	Portfolios      map[string]PortfolioResult `json:"portfolios"`
	Succeeded       int                        `json:"succeeded"`
	Failed          int                        `json:"failed"`
	Error           string                     `json:"error,omitempty"`
}

// Result snapshots the run state into a RunResult.
func (s *RunState) Result() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &RunResult{
		RunID:           s.RunID,
		CalculationDate: s.CalculationDate,
		Status:          s.Status,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Portfolios:      make(map[string]PortfolioResult, len(s.portfolios)),
	}
	if s.EndTime != nil {
		res.Duration = s.EndTime.Sub(s.StartTime)
	} else {
		res.Duration = time.Since(s.StartTime)
	}
	if s.Err != nil {
		res.Error = s.Err.Error()
	}

	for _, pid := range s.portfolios {
		pr := PortfolioResult{
			PortfolioID: pid,
			Status:      PhaseStatusCompleted,
			Phases:      make(map[string]PhaseOutcome, len(s.outcomes[pid])),
		}
		for phID, cell := range s.outcomes[pid] {
			pr.Phases[phID] = *cell
			if cell.Status == PhaseStatusFailed {
				pr.Status = PhaseStatusFailed
			}
		}
		if pr.Status == PhaseStatusFailed {
			res.Failed++
		} else {
			res.Succeeded++
		}
		res.Portfolios[pid] = pr
	}
	return res
}
