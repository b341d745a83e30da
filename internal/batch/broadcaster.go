package batch

import (
	"log/slog"
	"time"
)

// Event types pushed to the status stream.
const (
	EventTypeRunStatus     = "batch:status"
	EventTypePhaseProgress = "batch:progress"
	EventTypeRunComplete   = "batch:complete"
	EventTypeRunError      = "batch:error"
)

// Hub is the outbound status channel. The websocket hub satisfies it; tests
// plug in a recorder.
type Hub interface {
	BroadcastUpdate(eventType, phase, status string, metadata interface{})
}

// StatusBroadcaster pushes run lifecycle events through the hub so pollers
// and the websocket stream see consistent status.
type StatusBroadcaster struct {
	hub    Hub
	logger *slog.Logger
}

// NewStatusBroadcaster creates a status broadcaster. A nil hub disables
// broadcasting without disabling the orchestrator.
func NewStatusBroadcaster(hub Hub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		hub:    hub,
		logger: logger.With(slog.String("component", "batch.broadcaster")),
	}
}

// RunStarted announces a new run.
func (b *StatusBroadcaster) RunStarted(runID string, calculationDate time.Time, portfolios int) {
	b.send(EventTypeRunStatus, "", "running", map[string]interface{}{
		"run_id":           runID,
		"calculation_date": calculationDate.Format("2006-01-02"),
		"portfolios":       portfolios,
	})
}

// PhaseStarted announces the beginning of a phase.
func (b *StatusBroadcaster) PhaseStarted(runID, phaseID string) {
	b.send(EventTypePhaseProgress, phaseID, "active", map[string]interface{}{"run_id": runID})
}

// PhaseFinished announces a phase result, including per-portfolio failure counts.
func (b *StatusBroadcaster) PhaseFinished(runID, phaseID string, failed int) {
	status := "completed"
	if failed > 0 {
		status = "partial"
	}
	b.send(EventTypePhaseProgress, phaseID, status, map[string]interface{}{
		"run_id": runID,
		"failed": failed,
	})
}

// RunFinished announces the final run status.
func (b *StatusBroadcaster) RunFinished(result *RunResult) {
	eventType := EventTypeRunComplete
	if result.Status == RunStatusFailed {
		eventType = EventTypeRunError
	}
	b.send(eventType, "", string(result.Status), map[string]interface{}{
		"run_id":    result.RunID,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"duration":  result.Duration.Seconds(),
	})
}

func (b *StatusBroadcaster) send(eventType, phase, status string, metadata interface{}) {
	if b == nil || b.hub == nil {
		return
	}
	b.hub.BroadcastUpdate(eventType, phase, status, metadata)
}
