// Package inference implements the Inference Executor (spec.md §4.4): the
// bulkhead-guarded per-request flow dispatching into the Lifecycle
// Manager's opaque backend. Grounded on the 7-step flow in
// original_source/model_ops_coordinator/core/inference.py and on the
// size-capped, context-bound dispatch pattern in the teacher's
// pkg/inference/scheduling/scheduler.go.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/resiliency"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// LifecycleManager is the narrow slice of lifecycle.Manager the executor
// needs.
type LifecycleManager interface {
	AddRef(name string)
	RemoveRef(name string)
	Infer(ctx context.Context, name string, req lifecycle.InferRequest) (lifecycle.InferResult, error)
}

// Request/Result mirror the wire-level infer operation in spec.md §6.
type Request struct {
	Model          string
	Prompt         string
	MaxTokens      int
	Temperature    float64
	ConversationID string
}

type Result struct {
	Text            string
	TokensGenerated int
	ElapsedMS       int64
	Status          string
}

// Config carries the bulkhead limits and per-call timeout from spec.md
// §5/§6.
type Config struct {
	MaxConcurrent int64
	MaxQueueSize  int64
	CallTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: 8, MaxQueueSize: 16, CallTimeout: 60 * time.Second}
}

// Executor is the Inference Executor. It holds no long locks; admission
// is governed entirely by the bulkhead (spec.md §5).
type Executor struct {
	cfg       Config
	lifecycle LifecycleManager
	tel       *telemetry.Telemetry
	bulkhead  *resiliency.Bulkhead
}

const bulkheadOperation = "inference"

func NewExecutor(cfg Config, lifecycleMgr LifecycleManager, tel *telemetry.Telemetry) *Executor {
	return &Executor{
		cfg:       cfg,
		lifecycle: lifecycleMgr,
		tel:       tel,
		bulkhead:  resiliency.NewBulkhead(bulkheadOperation, cfg.MaxConcurrent, cfg.MaxQueueSize),
	}
}

// Infer implements the 7-step flow from spec.md §4.4. Resources (permit,
// reference count) are released on every exit path: success, error,
// timeout, or cancellation.
func (e *Executor) Infer(ctx context.Context, req Request) (Result, error) {
	release, err := e.bulkhead.Acquire(ctx)
	if err != nil {
		var rejection *errs.BulkheadRejection
		if errors.As(err, &rejection) {
			e.tel.BulkheadRejects.WithLabelValues(bulkheadOperation).Inc()
		}
		return Result{}, err
	}
	defer release()

	e.tel.ActiveInference.WithLabelValues(req.Model).Inc()
	e.lifecycle.AddRef(req.Model)
	defer func() {
		e.lifecycle.RemoveRef(req.Model)
		e.tel.ActiveInference.WithLabelValues(req.Model).Dec()
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := e.lifecycle.Infer(callCtx, req.Model, lifecycle.InferRequest{
		Prompt:         req.Prompt,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ConversationID: req.ConversationID,
	})
	elapsed := time.Since(start)
	e.tel.InferenceDuration.Observe(elapsed.Seconds())

	if err != nil {
		var notFound *errs.ModelNotFound
		if errors.As(err, &notFound) {
			e.tel.InferenceTotal.WithLabelValues(req.Model, "not_found").Inc()
			return Result{}, err
		}
		reason := err.Error()
		if callCtx.Err() != nil {
			reason = "timeout"
		}
		e.tel.InferenceTotal.WithLabelValues(req.Model, "error").Inc()
		return Result{}, &errs.InferenceError{Model: req.Model, Reason: reason}
	}

	e.tel.InferenceTotal.WithLabelValues(req.Model, "success").Inc()
	e.tel.InferenceTokens.WithLabelValues(req.Model).Add(float64(out.TokensGenerated))

	return Result{
		Text:            out.Text,
		TokensGenerated: out.TokensGenerated,
		ElapsedMS:       elapsed.Milliseconds(),
		Status:          "success",
	}, nil
}

// InFlight and QueueDepth expose bulkhead occupancy for the Background
// Loops telemetry-refresh concern.
func (e *Executor) InFlight() int64   { return e.bulkhead.InFlight() }
func (e *Executor) QueueDepth() int64 { return e.bulkhead.QueueDepth() }
