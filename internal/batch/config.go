package batch

import (
	"time"
)

// Default timeouts.
const (
	DefaultPhaseTimeout = 30 * time.Minute
	DefaultConcurrency  = 4
)

// Config controls orchestrator execution.
type Config struct {
	// Per-phase timeouts; phases not listed use DefaultTimeout.
	PhaseTimeouts map[string]time.Duration `json:"phase_timeouts"`

	// Fallback timeout for phases without a specific entry.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// Maximum portfolios processed concurrently within one phase.
	MaxConcurrency int `json:"max_concurrency"`

	// Optional deadline for the whole run. Zero means none; expiry is
	// treated as a failure that still goes through tracker cleanup.
	RunDeadline time.Duration `json:"run_deadline"`
}

// NewConfig returns the default orchestrator configuration.
func NewConfig() *Config {
	return &Config{
		PhaseTimeouts:  make(map[string]time.Duration),
		DefaultTimeout: DefaultPhaseTimeout,
		MaxConcurrency: DefaultConcurrency,
	}
}

// PhaseTimeout returns the timeout for a specific phase.
func (c *Config) PhaseTimeout(phaseID string) time.Duration {
	if timeout, ok := c.PhaseTimeouts[phaseID]; ok {
		return timeout
	}
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultPhaseTimeout
}

// SetPhaseTimeout sets the timeout for a specific phase.
func (c *Config) SetPhaseTimeout(phaseID string, timeout time.Duration) {
	if c.PhaseTimeouts == nil {
		c.PhaseTimeouts = make(map[string]time.Duration)
	}
	c.PhaseTimeouts[phaseID] = timeout
}

// Concurrency returns the bounded worker count for per-portfolio fan-out.
func (c *Config) Concurrency() int {
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency
	}
	return DefaultConcurrency
}
