package goals

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

const (
	defaultEvaluateDuration = 100 * time.Millisecond
	defaultProcessDuration  = 50 * time.Millisecond
	defaultWaitDuration     = 150 * time.Millisecond

	// maxLearningJobWait is the bounded overall wait for a learning-job
	// sub-step before the goal is failed, per spec.md §4.6.
	maxLearningJobWait = 5 * time.Minute
	learningJobPoll    = time.Second
)

// LearningCoordinator is the narrow slice of learning.Coordinator the Goal
// Processor drives sub-steps through.
type LearningCoordinator interface {
	Submit(ctx context.Context, jobType learning.JobType, model, dataset string, params map[string]string) (string, error)
	Status(jobID string) (*learning.Job, error)
	Cancel(jobID string) (bool, error)
}

// goalQueue is a container/heap priority queue ordered by
// (priorityClass, createdAt), the idiomatic Go rendition of
// original_source's `PriorityQueue` + `Goal.__lt__` pair (see DESIGN.md).
type goalQueue []*Goal

func (q goalQueue) Len() int { return len(q) }
func (q goalQueue) Less(i, j int) bool {
	if q[i].Priority.Rank() != q[j].Priority.Rank() {
		return q[i].Priority.Rank() < q[j].Priority.Rank()
	}
	return q[i].CreatedAt.Before(q[j].CreatedAt)
}
func (q goalQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *goalQueue) Push(x interface{}) { *q = append(*q, x.(*Goal)) }
func (q *goalQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Processor is the Goal Processor (spec.md §4.6).
type Processor struct {
	learning    LearningCoordinator
	log         logging.Logger
	tel         *telemetry.Telemetry
	analyzer    StepAnalyzer
	maxActive   int

	mu       sync.Mutex
	goals    map[string]*Goal
	queue    goalQueue
	active   map[string]bool
	wakeup   chan struct{}
}

// NewProcessor constructs a Goal Processor with the default keyword-based
// analyzer; pass a different StepAnalyzer to override.
func NewProcessor(lc LearningCoordinator, log logging.Logger, tel *telemetry.Telemetry, maxActive int, analyzer StepAnalyzer) *Processor {
	if analyzer == nil {
		analyzer = KeywordAnalyzer{}
	}
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Processor{
		learning:  lc,
		log:       log,
		tel:       tel,
		analyzer:  analyzer,
		maxActive: maxActive,
		goals:     map[string]*Goal{},
		active:    map[string]bool{},
		wakeup:    make(chan struct{}, 1),
	}
}

// Create implements spec.md §4.6's create operation.
func (p *Processor) Create(title, description string, priority Priority, metadata map[string]string) string {
	id := uuid.NewString()
	g := &Goal{
		GoalID:      id,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	p.mu.Lock()
	p.goals[id] = g
	heap.Push(&p.queue, g)
	p.mu.Unlock()
	p.updateMetrics()
	p.signal()
	return id
}

func (p *Processor) Get(id string) (*Goal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return nil, false
	}
	cp := *g
	return &cp, true
}

// List returns goals, optionally filtered by status, sorted by
// (priority, created_at) per spec.md §4.6.
func (p *Processor) List(status Status) []Goal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Goal, 0, len(p.goals))
	for _, g := range p.goals {
		if status != "" && g.Status != status {
			continue
		}
		out = append(out, *g)
	}
	sortGoals(out)
	return out
}

func sortGoals(gs []Goal) {
	for i := 1; i < len(gs); i++ {
		for j := i; j > 0; j-- {
			a, b := gs[j-1], gs[j]
			less := a.Priority.Rank() < b.Priority.Rank() ||
				(a.Priority.Rank() == b.Priority.Rank() && a.CreatedAt.Before(b.CreatedAt))
			if less {
				break
			}
			gs[j-1], gs[j] = gs[j], gs[j-1]
		}
	}
}

// UpdateProgress implements spec.md §4.6's update_progress operation.
func (p *Processor) UpdateProgress(id string, progress float64, status *Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	g.Progress = progress
	if status != nil {
		g.Status = *status
		if *status == StatusCompleted {
			now := time.Now()
			g.CompletedAt = &now
			g.Progress = 1
			p.tel.GoalCompletionTime.Observe(now.Sub(g.CreatedAt).Seconds())
			p.tel.GoalCompletions.WithLabelValues("completed").Inc()
		}
	}
	return true
}

// Cancel implements spec.md §4.6's cancel operation: any outstanding
// learning jobs derived from this goal are cancelled too.
func (p *Processor) Cancel(id string) bool {
	p.mu.Lock()
	g, ok := p.goals[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if terminal(g.Status) {
		p.mu.Unlock()
		return false
	}
	jobIDs := append([]string(nil), g.DerivedLearningJobIDs...)
	g.Status = StatusCancelled
	now := time.Now()
	g.CompletedAt = &now
	g.Error = "cancelled"
	delete(p.active, id)
	p.mu.Unlock()

	for _, jobID := range jobIDs {
		_, _ = p.learning.Cancel(jobID)
	}
	p.tel.GoalCompletions.WithLabelValues("cancelled").Inc()
	p.updateMetrics()
	return true
}

// Delete implements spec.md §4.6's delete operation: a goal must be
// cancelled or otherwise terminal before it can be removed — a running or
// pending goal must be cancelled first.
func (p *Processor) Delete(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	if !ok {
		return false
	}
	if g.Status == StatusRunning || g.Status == StatusPending {
		return false
	}
	delete(p.goals, id)
	return true
}

func terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

func (p *Processor) signal() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

// Run is the processor loop: at most maxActive goals execute concurrently,
// popping the highest-priority pending goal when a slot frees. Grounded
// on _goal_processor_loop in original_source/core/goal_manager.py.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.dispatch(ctx)
		case <-p.wakeup:
			p.dispatch(ctx)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.active) >= p.maxActive || p.queue.Len() == 0 {
			p.mu.Unlock()
			return
		}
		g := heap.Pop(&p.queue).(*Goal)
		if terminal(g.Status) {
			p.mu.Unlock()
			continue
		}
		now := time.Now()
		g.Status = StatusRunning
		g.StartedAt = &now
		p.active[g.GoalID] = true
		p.mu.Unlock()

		p.updateMetrics()
		go p.execute(ctx, g.GoalID)
	}
}

func (p *Processor) execute(ctx context.Context, id string) {
	defer func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
		p.updateMetrics()
		p.signal()
	}()

	g, ok := p.Get(id)
	if !ok {
		return
	}
	steps := p.analyzer.Analyze(*g)

	for i, step := range steps {
		if p.isCancelled(id) {
			return
		}
		if err := p.runStep(ctx, id, step); err != nil {
			p.fail(id, err.Error())
			return
		}
		p.UpdateProgress(id, float64(i+1)/float64(len(steps)), nil)
	}

	completed := StatusCompleted
	p.UpdateProgress(id, 1, &completed)
}

func (p *Processor) runStep(ctx context.Context, goalID string, step Step) error {
	switch step.Type {
	case StepSubmitLearningJob:
		jobID, err := p.learning.Submit(ctx, learning.JobType(step.JobType), step.ModelName, step.DatasetRef, step.Params)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if g, ok := p.goals[goalID]; ok {
			g.DerivedLearningJobIDs = append(g.DerivedLearningJobIDs, jobID)
		}
		p.mu.Unlock()
		return p.waitForLearningJob(ctx, goalID, jobID)
	case StepEvaluateModel, StepProcessData, StepGenericWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Duration):
			return nil
		}
	default:
		return nil
	}
}

// waitForLearningJob blocks until the job reaches a terminal status or
// maxLearningJobWait elapses, whichever comes first (spec.md §4.6).
func (p *Processor) waitForLearningJob(ctx context.Context, goalID, jobID string) error {
	deadline := time.Now().Add(maxLearningJobWait)
	ticker := time.NewTicker(learningJobPoll)
	defer ticker.Stop()
	for {
		if p.isCancelled(goalID) {
			return nil
		}
		job, err := p.learning.Status(jobID)
		if err == nil && job != nil {
			switch job.Status {
			case learning.StatusCompleted:
				return nil
			case learning.StatusFailed:
				return &errs.GoalError{GoalID: goalID, Reason: "learning job failed: " + job.Error}
			case learning.StatusCancelled:
				return &errs.GoalError{GoalID: goalID, Reason: "learning job cancelled"}
			}
		}
		if time.Now().After(deadline) {
			return &errs.GoalError{GoalID: goalID, Reason: "learning job did not complete within bound"}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Processor) isCancelled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[id]
	return ok && g.Status == StatusCancelled
}

func (p *Processor) fail(id, reason string) {
	p.mu.Lock()
	g, ok := p.goals[id]
	if ok {
		g.Status = StatusFailed
		g.Error = reason
		now := time.Now()
		g.CompletedAt = &now
	}
	p.mu.Unlock()
	p.tel.GoalCompletions.WithLabelValues("failed").Inc()
	p.updateMetrics()
}

func (p *Processor) updateMetrics() {
	p.mu.Lock()
	counts := map[string]map[string]int{}
	for _, g := range p.goals {
		if counts[string(g.Status)] == nil {
			counts[string(g.Status)] = map[string]int{}
		}
		counts[string(g.Status)][string(g.Priority)]++
	}
	p.mu.Unlock()
	for status, byPriority := range counts {
		for priority, n := range byPriority {
			p.tel.GoalCounts.WithLabelValues(status, priority).Set(float64(n))
		}
	}
}
