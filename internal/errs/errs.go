// Package errs defines the typed error taxonomy shared by every component
// and transport surface, grounded on the sentinel-error idiom in
// pkg/inference/scheduling/errors.go and on the error class hierarchy in
// original_source/model_ops_coordinator/core/errors.py.
package errs

import "fmt"

// ModelNotFound reports that no loaded-model record exists for name.
type ModelNotFound struct {
	Name string
}

func (e *ModelNotFound) Error() string {
	return fmt.Sprintf("model not found: %s", e.Name)
}

// ModelLoadError reports a failed load attempt.
type ModelLoadError struct {
	Name   string
	Reason string
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load failed for %s: %s", e.Name, e.Reason)
}

// ModelUnloadError reports a failed unload attempt.
type ModelUnloadError struct {
	Name   string
	Reason string
}

func (e *ModelUnloadError) Error() string {
	return fmt.Sprintf("unload failed for %s: %s", e.Name, e.Reason)
}

// GPUUnavailable reports that a requested allocation could not be
// satisfied even after eviction.
type GPUUnavailable struct {
	RequiredMB  int64
	AvailableMB int64
}

func (e *GPUUnavailable) Error() string {
	return fmt.Sprintf("GPU unavailable: required %dMB, available %dMB", e.RequiredMB, e.AvailableMB)
}

// VRAMExhausted reports a usage-percentage breach independent of a single
// allocation attempt (used by the background poll / pressure warnings).
type VRAMExhausted struct {
	TotalMB      int64
	UsedMB       int64
	ThresholdPct float64
}

func (e *VRAMExhausted) Error() string {
	return fmt.Sprintf("VRAM exhausted: used %d/%d MB exceeds %.1f%%", e.UsedMB, e.TotalMB, e.ThresholdPct)
}

// InferenceError reports a failed inference call, including timeouts.
type InferenceError struct {
	Model  string
	Reason string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for %s: %s", e.Model, e.Reason)
}

// CircuitOpen reports that a circuit breaker is rejecting calls.
// RetryAfterSec, when > 0, is the breaker's remaining time until it moves
// to half-open, surfaced to transports as a Retry-After hint (spec.md §7:
// "CircuitOpen → 503 with Retry-After").
type CircuitOpen struct {
	Operation      string
	FailureCount   int
	RetryAfterSec  int
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit open for %s after %d failures", e.Operation, e.FailureCount)
}

// BulkheadRejection reports synchronous admission-control rejection.
type BulkheadRejection struct {
	Operation string
	Current   int
	Max       int
}

func (e *BulkheadRejection) Error() string {
	return fmt.Sprintf("bulkhead rejected %s: current %d, max %d", e.Operation, e.Current, e.Max)
}

// LearningJobError reports a job-level failure.
type LearningJobError struct {
	JobID  string
	Reason string
}

func (e *LearningJobError) Error() string {
	return fmt.Sprintf("learning job %s failed: %s", e.JobID, e.Reason)
}

// GoalError reports a goal-level failure.
type GoalError struct {
	GoalID string
	Reason string
}

func (e *GoalError) Error() string {
	return fmt.Sprintf("goal %s failed: %s", e.GoalID, e.Reason)
}

// ConfigurationError reports a startup-time configuration problem.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at %s: %s", e.Key, e.Reason)
}
