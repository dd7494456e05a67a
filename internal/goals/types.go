// Package goals implements the Goal Processor (spec.md §4.6): a bounded-
// concurrency priority queue of long-running goals, each decomposed into
// an ordered list of sub-steps drawn from submit-learning-job,
// evaluate-model, process-data, and generic-wait. Grounded on
// original_source/model_ops_coordinator/core/goal_manager.py's Goal
// dataclass, its __lt__ priority ordering, and _analyze_goal_requirements.
package goals

import "time"

// Priority is the eviction-exemption-style ordering class from spec.md §3.
// Lower numeric Rank sorts first: critical < high < medium < low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the ordering rank used for queue comparisons; unknown
// priorities sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return 999
}

// Status is the goal lifecycle status from spec.md §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Goal is the data-model Goal from spec.md §3.
type Goal struct {
	GoalID                string
	Title                 string
	Description           string
	Priority              Priority
	Status                Status
	Progress              float64
	Metadata              map[string]string
	CreatedAt             time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	Error                 string
	DerivedLearningJobIDs []string
}

// StepType enumerates the sub-step kinds spec.md §4.6 names.
type StepType string

const (
	StepSubmitLearningJob StepType = "submit-learning-job"
	StepEvaluateModel     StepType = "evaluate-model"
	StepProcessData       StepType = "process-data"
	StepGenericWait       StepType = "generic-wait"
)

// Step is one decomposed unit of goal execution.
type Step struct {
	Type       StepType
	JobType    string
	ModelName  string
	DatasetRef string
	Params     map[string]string
	Duration   time.Duration
}

// StepAnalyzer decomposes a goal into an ordered list of sub-steps. The
// default implementation is keyword-based (spec.md §4.6); a deployment may
// supply a smarter analyzer (NLP-backed, structured) behind the same
// interface.
type StepAnalyzer interface {
	Analyze(g Goal) []Step
}
