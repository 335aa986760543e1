// Package scheduler runs the backend's recurring maintenance: the nightly
// audit-retention sweep and the orphaned-thumbnail cleanup. Jobs are plain
// cron-driven tasks; nothing here touches the chat path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// taskTimeout bounds one firing of a job so a wedged task cannot overlap with
// its next scheduled run forever.
const taskTimeout = 10 * time.Minute

// TaskFunc is the work a job performs when its schedule fires.
type TaskFunc func(ctx context.Context) error

// Job is one recurring maintenance task.
type Job struct {
	ID       string // Unique identifier for the job
	Name     string // Human-readable name (optional)
	CronExpr string // Cron expression (e.g. "0 4 * * *")
	Task     TaskFunc
}

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrNilTask      = errors.New("scheduler: job task must not be nil")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
)

// jobEntry tracks a registered job and its cron entry ID.
type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler manages cron-based maintenance jobs. A failing task is logged and
// retried on its next scheduled firing; it never takes the process down.
type Scheduler struct {
	engine CronEngine
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[string]jobEntry
}

// NewScheduler creates a new Scheduler. The engine must not be nil.
func NewScheduler(engine CronEngine, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	s := &Scheduler{
		engine: engine,
		jobs:   make(map[string]jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the Scheduler's logger, falling back to the default slog logger.
func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddJob registers a new maintenance job. Returns an error if the job fails
// validation or if a job with the same ID already exists.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.CronExpr == "" {
		return ErrEmptyCron
	}
	if job.Task == nil {
		return ErrNilTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	// Capture job for the closure.
	capturedJob := job
	entryID, err := s.engine.AddFunc(job.CronExpr, func() {
		s.runJob(capturedJob)
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to register cron job %q: %w", job.ID, err)
	}

	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("maintenance job registered",
		"job_id", job.ID,
		"job_name", job.Name,
		"cron_expr", job.CronExpr,
	)
	return nil
}

// runJob executes one firing of a job under the task timeout.
func (s *Scheduler) runJob(job Job) {
	s.log().Info("maintenance job fired",
		"job_id", job.ID,
		"job_name", job.Name,
	)
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	start := time.Now()
	if err := job.Task(ctx); err != nil {
		s.log().Warn("maintenance job failed",
			"job_id", job.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	s.log().Info("maintenance job finished",
		"job_id", job.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop halts the cron scheduler.
func (s *Scheduler) Stop() {
	s.engine.Stop()
}

// RemoveJob unregisters a job by ID. Returns an error if the job ID is empty
// or the job does not exist.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("scheduler: job %q not found", id)
	}

	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("maintenance job removed", "job_id", id)
	return nil
}

// ListJobs returns a copy of all registered jobs. The returned slice is
// never nil (empty slice when no jobs are registered).
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// GetJob returns the job with the given ID, or false if not found.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}
