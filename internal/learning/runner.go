package learning

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SimulatedRunner is the default JobRunner: it advances progress on a
// fixed cadence without touching a real training framework, the same
// "opaque operation" stance spec.md takes toward model loads.
// Checkpoints map to Progress∈[0,1] in Steps equal steps (ten from
// NewSimulatedRunner).
type SimulatedRunner struct {
	StepInterval time.Duration
	Steps        int
}

func NewSimulatedRunner() *SimulatedRunner {
	return &SimulatedRunner{StepInterval: 200 * time.Millisecond, Steps: 10}
}

func (r *SimulatedRunner) Run(ctx context.Context, job Job, progress func(p float64) bool) (string, error) {
	steps := r.Steps
	if steps <= 0 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.StepInterval):
		}
		if !progress(float64(i) / float64(steps)) {
			return "", nil
		}
	}
	return "result-" + uuid.NewString(), nil
}
