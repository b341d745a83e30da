package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the job buffer has no room; the
// trigger path stays non-blocking and the caller can retry later.
var ErrQueueFull = errors.New("job queue is full")

// JobStatus represents the status of a queued batch job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one queued batch trigger. The HTTP layer enqueues and returns
// immediately; a worker picks the job up and drives the orchestrator.
type Job struct {
	ID          string       `json:"id"`
	RunID       string       `json:"run_id,omitempty"`
	Status      JobStatus    `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Request     BatchRequest `json:"request"`
	Result      *RunResult   `json:"result,omitempty"`
}

// JobStore persists queued jobs for status lookups.
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	ListJobs(limit int) ([]*Job, error)
}

// MemoryJobStore is the in-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// CreateJob stores a new job.
func (s *MemoryJobStore) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetJob returns a copy of the job.
func (s *MemoryJobStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

// UpdateJob replaces the stored job.
func (s *MemoryJobStore) UpdateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *MemoryJobStore) ListJobs(limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// JobQueue runs batch triggers out-of-band from the request path. The
// single-flight guarantee lives in the RunTracker, not here; the queue only
// provides asynchrony.
type JobQueue struct {
	jobs         chan *Job
	workers      int
	wg           sync.WaitGroup
	store        JobStore
	orchestrator *Orchestrator
	logger       *slog.Logger
	shutdown     chan struct{}
	once         sync.Once
}

// NewJobQueue creates a job queue backed by the given store.
func NewJobQueue(workers int, store JobStore, orchestrator *Orchestrator, logger *slog.Logger) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		jobs:         make(chan *Job, workers*2),
		workers:      workers,
		store:        store,
		orchestrator: orchestrator,
		logger:       logger.With(slog.String("component", "batch.jobqueue")),
		shutdown:     make(chan struct{}),
	}
}

// Start begins processing jobs.
func (q *JobQueue) Start(ctx context.Context) {
	q.logger.Info("starting job queue", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop shuts the queue down, waiting up to timeout for in-flight jobs.
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.once.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job queue stop timed out after %s", timeout)
	}
}

// Enqueue submits a batch request and returns the job id immediately. A full
// buffer returns ErrQueueFull instead of blocking the caller.
func (q *JobQueue) Enqueue(req BatchRequest) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
		Request:   req,
	}
	select {
	case <-q.shutdown:
		return nil, fmt.Errorf("job queue is shutting down")
	default:
	}

	if err := q.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case q.jobs <- job:
		return job, nil
	case <-q.shutdown:
		return nil, fmt.Errorf("job queue is shutting down")
	default:
		// Record the rejection so the job does not linger as pending.
		job.Status = JobStatusFailed
		job.Error = ErrQueueFull.Error()
		if err := q.store.UpdateJob(job); err != nil {
			q.logger.Warn("failed to persist rejected job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		return nil, ErrQueueFull
	}
}

func (q *JobQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.With(slog.Int("worker", id))

	for {
		select {
		case <-q.shutdown:
			return
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.execute(ctx, logger, job)
		}
	}
}

func (q *JobQueue) execute(ctx context.Context, logger *slog.Logger, job *Job) {
	now := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	if err := q.store.UpdateJob(job); err != nil {
		logger.Warn("failed to persist job start", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}

	result, err := q.orchestrator.RunDailyBatchSequence(ctx, job.Request)

	completed := time.Now()
	job.CompletedAt = &completed
	job.Result = result
	if result != nil {
		job.RunID = result.RunID
	}
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		logger.Warn("batch job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	} else {
		job.Status = JobStatusCompleted
	}
	if err := q.store.UpdateJob(job); err != nil {
		logger.Warn("failed to persist job result", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}
