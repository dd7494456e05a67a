package learning

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// JobRunner executes one job's opaque work. progress should be called
// periodically; it returns false once the job has been marked cancelled,
// at which point Run must stop at the next checkpoint (spec.md §4.5).
type JobRunner interface {
	Run(ctx context.Context, job Job, progress func(p float64) bool) (resultRef string, err error)
}

// Coordinator is the Learning Coordinator.
type Coordinator struct {
	store       *Store
	log         logging.Logger
	tel         *telemetry.Telemetry
	runner      JobRunner
	maxParallel int

	mu           sync.Mutex
	runningCount int
	cancelled    map[string]bool
}

func NewCoordinator(store *Store, log logging.Logger, tel *telemetry.Telemetry, runner JobRunner, maxParallel int) *Coordinator {
	return &Coordinator{
		store:       store,
		log:         log,
		tel:         tel,
		runner:      runner,
		maxParallel: maxParallel,
		cancelled:   map[string]bool{},
	}
}

// Start demotes any jobs left `running` from a previous process (restart,
// not resume) and kicks the scheduler in case pending work already
// exists.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.store.DemoteRunningToPending(); err != nil {
		return err
	}
	c.tryStartNext(ctx)
	return nil
}

// Submit enqueues a new job and returns its id.
func (c *Coordinator) Submit(ctx context.Context, jobType JobType, model, dataset string, params map[string]string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	job := Job{
		JobID:      id,
		JobType:    jobType,
		ModelName:  model,
		DatasetRef: dataset,
		Params:     params,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.Insert(job); err != nil {
		return "", &errs.LearningJobError{JobID: id, Reason: err.Error()}
	}
	c.tryStartNext(ctx)
	return id, nil
}

func (c *Coordinator) Status(jobID string) (*Job, error) {
	job, ok, err := c.store.Get(jobID)
	if err != nil {
		return nil, &errs.LearningJobError{JobID: jobID, Reason: err.Error()}
	}
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (c *Coordinator) List(filter Status) ([]Job, error) {
	if filter == "" {
		return c.store.List()
	}
	return c.store.ListByStatus(filter)
}

// Cancel marks status=cancelled; observed at the job's next progress
// checkpoint (spec.md §4.5).
func (c *Coordinator) Cancel(jobID string) (bool, error) {
	job, ok, err := c.store.Get(jobID)
	if err != nil {
		return false, &errs.LearningJobError{JobID: jobID, Reason: err.Error()}
	}
	if !ok {
		return false, nil
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
		return false, nil
	}
	c.mu.Lock()
	c.cancelled[jobID] = true
	c.mu.Unlock()

	if job.Status == StatusPending {
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now()
		if err := c.store.Update(job); err != nil {
			return false, &errs.LearningJobError{JobID: jobID, Reason: err.Error()}
		}
	}
	return true, nil
}

// tryStartNext holds c.mu across the entire find-and-claim sequence —
// the capacity check, the oldest-pending lookup, and the synchronous
// status=running write — so two concurrent callers can never claim the
// same pending job, mirroring the single `self._lock` critical section
// in original_source/core/learning.py's `_try_start_next_job`/`_start_job`.
func (c *Coordinator) tryStartNext(ctx context.Context) {
	c.mu.Lock()
	if c.runningCount >= c.maxParallel {
		c.mu.Unlock()
		return
	}
	pending, err := c.store.ListByStatus(StatusPending)
	if err != nil || len(pending) == 0 {
		c.mu.Unlock()
		return
	}
	job := pending[0]
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := c.store.Update(job); err != nil {
		c.mu.Unlock()
		c.log.WithError(err).WithField("job_id", job.JobID).Warn("failed to claim pending job")
		return
	}
	c.runningCount++
	c.mu.Unlock()

	go c.runJob(ctx, job)
}

func (c *Coordinator) runJob(ctx context.Context, job Job) {
	defer func() {
		c.mu.Lock()
		c.runningCount--
		c.mu.Unlock()
		c.tryStartNext(ctx)
	}()

	// job is already claimed (status=running, persisted) by tryStartNext.
	start := time.Now()
	progress := func(p float64) bool {
		c.mu.Lock()
		cancelled := c.cancelled[job.JobID]
		c.mu.Unlock()
		job.Progress = p
		job.UpdatedAt = time.Now()
		_ = c.store.Update(job)
		return !cancelled
	}

	resultRef, err := c.runner.Run(ctx, job, progress)
	c.tel.LearningJobDuration.Observe(time.Since(start).Seconds())

	completedAt := time.Now()
	job.UpdatedAt = completedAt
	job.CompletedAt = &completedAt

	c.mu.Lock()
	cancelled := c.cancelled[job.JobID]
	delete(c.cancelled, job.JobID)
	c.mu.Unlock()

	switch {
	case cancelled:
		job.Status = StatusCancelled
		c.tel.JobCompletions.WithLabelValues("cancelled").Inc()
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
		c.tel.JobCompletions.WithLabelValues("failed").Inc()
	default:
		job.Status = StatusCompleted
		job.Progress = 1
		job.ResultRef = resultRef
		c.tel.JobCompletions.WithLabelValues("completed").Inc()
	}
	if err := c.store.Update(job); err != nil {
		c.log.WithError(err).WithField("job_id", job.JobID).Warn("failed to persist terminal state")
	}
}
