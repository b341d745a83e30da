package batch

import (
	"errors"
	"fmt"
)

// ErrorType classifies batch errors by how callers should react.
type ErrorType string

const (
	ErrorTypeInvalidArguments ErrorType = "invalid_arguments"
	ErrorTypeAlreadyRunning   ErrorType = "already_running"
	ErrorTypeExecution        ErrorType = "execution"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeCancellation     ErrorType = "cancellation"
	ErrorTypeFatal            ErrorType = "fatal"
)

// Error is a batch-specific error carrying its classification, the phase it
// occurred in and, where relevant, the portfolio it was scoped to.
type Error struct {
	Type        ErrorType              `json:"type"`
	Phase       string                 `json:"phase,omitempty"`
	PortfolioID string                 `json:"portfolio_id,omitempty"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "unknown batch error"
	}
	switch {
	case e.Phase != "" && e.PortfolioID != "":
		return fmt.Sprintf("[%s] %s/%s: %s", e.Type, e.Phase, e.PortfolioID, e.Message)
	case e.Phase != "":
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Phase, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewInvalidArgumentsError reports a contract violation by the trigger
// caller. Raised before any Run Tracker state changes.
func NewInvalidArgumentsError(message string) *Error {
	return &Error{Type: ErrorTypeInvalidArguments, Message: message}
}

// NewAlreadyRunningError reports that the single-flight gate rejected a run.
// The conflicting run's metadata rides along for the caller.
func NewAlreadyRunningError(current *BatchRun) *Error {
	e := &Error{Type: ErrorTypeAlreadyRunning, Message: "a batch run is already active"}
	if current != nil {
		e.Context = map[string]interface{}{
			"run_id":     current.RunID,
			"started_at": current.StartedAt,
		}
	}
	return e
}

// NewExecutionError wraps a single portfolio's phase failure.
func NewExecutionError(phase, portfolioID string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeExecution,
		Phase:       phase,
		PortfolioID: portfolioID,
		Message:     "phase execution failed",
		Cause:       cause,
	}
}

// NewTimeoutError reports a phase deadline expiry.
func NewTimeoutError(phase string, timeout string) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Phase:   phase,
		Message: fmt.Sprintf("phase exceeded timeout of %s", timeout),
	}
}

// NewCancellationError reports that the run context was cancelled.
func NewCancellationError(phase string) *Error {
	return &Error{Type: ErrorTypeCancellation, Phase: phase, Message: "run was cancelled"}
}

// NewFatalError wraps an unexpected failure escaping the phase loop.
func NewFatalError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeFatal, Message: message, Cause: cause}
}

// TypeOf returns the classification of err, or ErrorTypeExecution for
// foreign errors.
func TypeOf(err error) ErrorType {
	var be *Error
	if errors.As(err, &be) {
		return be.Type
	}
	return ErrorTypeExecution
}

// IsInvalidArguments reports whether err is a trigger contract violation.
func IsInvalidArguments(err error) bool { return TypeOf(err) == ErrorTypeInvalidArguments }

// IsAlreadyRunning reports whether err is a single-flight rejection.
func IsAlreadyRunning(err error) bool { return TypeOf(err) == ErrorTypeAlreadyRunning }
