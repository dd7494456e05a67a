// Package coordinator provides the single facade over C3-C6 operations
// (Lifecycle, GPU leases, Inference, Learning, Goals) that all three
// transport surfaces share, so adapter code never touches component
// internals directly. Grounded on the teacher's Scheduler type in
// pkg/inference/scheduling/scheduler.go, which sits in front of loader and
// modelManager the same way.
package coordinator

import (
	"context"
	"time"

	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

// LifecycleManager is the narrow slice of lifecycle.Manager the facade
// needs for load/unload/list/status.
type LifecycleManager interface {
	Load(ctx context.Context, d lifecycle.Descriptor) error
	Unload(ctx context.Context, name string, force bool) error
	List() []lifecycle.LoadedModel
	Status(name string) (lifecycle.State, error)
}

// GPULeaser is the narrow slice of gpu.Manager the facade needs for lease
// acquisition/release.
type GPULeaser interface {
	AcquireLease(req gpu.LeaseRequest) gpu.LeaseGrant
	ReleaseLease(leaseID string)
}

// InferenceExecutor is the narrow slice of inference.Executor the facade
// needs.
type InferenceExecutor interface {
	Infer(ctx context.Context, req inference.Request) (inference.Result, error)
	InFlight() int64
}

// LearningCoordinator is the narrow slice of learning.Coordinator the
// facade needs.
type LearningCoordinator interface {
	Submit(ctx context.Context, jobType learning.JobType, model, dataset string, params map[string]string) (string, error)
	Status(jobID string) (*learning.Job, error)
	List(filter learning.Status) ([]learning.Job, error)
	Cancel(jobID string) (bool, error)
}

// GoalProcessor is the narrow slice of goals.Processor the facade needs.
type GoalProcessor interface {
	Create(title, description string, priority goals.Priority, metadata map[string]string) string
	Get(id string) (*goals.Goal, bool)
	List(status goals.Status) []goals.Goal
	Cancel(id string) bool
}

// HealthChecker is implemented by anything the /health operation (spec.md
// §6) should fold into its aggregate liveness verdict.
type HealthChecker interface {
	Name() string
	Healthy() (ok bool, detail string)
}

// Coordinator is the single facade every transport adapter is built
// against (spec.md §6's "three surfaces expose the same set of
// operations").
type Coordinator struct {
	Lifecycle LifecycleManager
	GPU       GPULeaser
	Inference InferenceExecutor
	Learning  LearningCoordinator
	Goals     GoalProcessor

	checks    []HealthChecker
	startedAt time.Time
}

// New constructs a Coordinator over the given components. checks is the
// set of sub-checks the health operation reports on.
func New(lifecycleMgr LifecycleManager, gpuMgr GPULeaser, exec InferenceExecutor, learningCoord LearningCoordinator, goalProc GoalProcessor, checks ...HealthChecker) *Coordinator {
	return &Coordinator{
		Lifecycle: lifecycleMgr,
		GPU:       gpuMgr,
		Inference: exec,
		Learning:  learningCoord,
		Goals:     goalProc,
		checks:    checks,
		startedAt: time.Now(),
	}
}

// LoadModel implements the wire-level load_model operation (spec.md §6).
func (c *Coordinator) LoadModel(ctx context.Context, d lifecycle.Descriptor) error {
	return c.Lifecycle.Load(ctx, d)
}

// UnloadModel implements the wire-level unload_model operation.
func (c *Coordinator) UnloadModel(ctx context.Context, name string, force bool) error {
	return c.Lifecycle.Unload(ctx, name, force)
}

// ListModels implements the wire-level list_models operation.
func (c *Coordinator) ListModels() []lifecycle.LoadedModel {
	return c.Lifecycle.List()
}

// ModelStatus returns a single model's state.
func (c *Coordinator) ModelStatus(name string) (lifecycle.State, error) {
	return c.Lifecycle.Status(name)
}

// Infer implements the wire-level infer operation.
func (c *Coordinator) Infer(ctx context.Context, req inference.Request) (inference.Result, error) {
	return c.Inference.Infer(ctx, req)
}

// AcquireGPULease implements the wire-level acquire_gpu_lease operation.
func (c *Coordinator) AcquireGPULease(req gpu.LeaseRequest) gpu.LeaseGrant {
	return c.GPU.AcquireLease(req)
}

// ReleaseGPULease implements the wire-level release_gpu_lease operation.
func (c *Coordinator) ReleaseGPULease(leaseID string) {
	c.GPU.ReleaseLease(leaseID)
}

// SubmitLearningJob implements the wire-level submit_learning_job operation.
func (c *Coordinator) SubmitLearningJob(ctx context.Context, jobType learning.JobType, model, dataset string, params map[string]string) (string, error) {
	return c.Learning.Submit(ctx, jobType, model, dataset, params)
}

// GetLearningJob implements get_learning_job.
func (c *Coordinator) GetLearningJob(jobID string) (*learning.Job, error) {
	return c.Learning.Status(jobID)
}

// ListLearningJobs implements list_learning_jobs.
func (c *Coordinator) ListLearningJobs(filter learning.Status) ([]learning.Job, error) {
	return c.Learning.List(filter)
}

// CancelLearningJob implements cancel_learning_job.
func (c *Coordinator) CancelLearningJob(jobID string) (bool, error) {
	return c.Learning.Cancel(jobID)
}

// CreateGoal implements create_goal.
func (c *Coordinator) CreateGoal(title, description string, priority goals.Priority, metadata map[string]string) string {
	return c.Goals.Create(title, description, priority, metadata)
}

// ListGoals implements list_goals.
func (c *Coordinator) ListGoals(status goals.Status) []goals.Goal {
	return c.Goals.List(status)
}

// CancelGoal implements cancel_goal.
func (c *Coordinator) CancelGoal(id string) bool {
	return c.Goals.Cancel(id)
}

// SystemStatus is the body of the wire-level `status` operation.
type SystemStatus struct {
	UptimeSeconds   float64
	ModelsLoaded    int
	ActiveInference int64
}

// Status implements the wire-level status operation.
func (c *Coordinator) Status() SystemStatus {
	return SystemStatus{
		UptimeSeconds:   time.Since(c.startedAt).Seconds(),
		ModelsLoaded:    len(c.Lifecycle.List()),
		ActiveInference: c.Inference.InFlight(),
	}
}

// HealthCheck is one sub-check's result in the health operation's body.
type HealthCheck struct {
	Name   string
	OK     bool
	Detail string
}

// HealthReport is the full body of the wire-level health operation
// (spec.md §6): {status: "ok"} with 200 iff every check is healthy,
// otherwise a body detailing which sub-checks failed.
type HealthReport struct {
	Status string
	Checks []HealthCheck
}

// Health implements the wire-level health operation.
func (c *Coordinator) Health() HealthReport {
	report := HealthReport{Status: "ok"}
	for _, check := range c.checks {
		ok, detail := check.Healthy()
		report.Checks = append(report.Checks, HealthCheck{Name: check.Name(), OK: ok, Detail: detail})
		if !ok {
			report.Status = "degraded"
		}
	}
	return report
}
