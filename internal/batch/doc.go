// Package batch orchestrates the daily risk calculation pipeline.
//
// A batch run executes a dependency-ordered sequence of phases for one
// calculation date across a portfolio scope. The RunTracker enforces a
// single active run per process and backs the status polling API; the
// Orchestrator guarantees tracker cleanup on every exit path, including
// panics and cancellation, so a crashed run can never starve future
// triggers. Within a phase, portfolios are processed independently on a
// bounded worker pool and one portfolio's failure never aborts its
// siblings; cross-phase ordering per portfolio is strict.
//
// The JobQueue decouples HTTP triggers from execution: callers enqueue a
// request and poll status while workers drive the orchestrator.
package batch
