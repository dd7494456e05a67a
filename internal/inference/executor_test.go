package inference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

type fakeLifecycle struct {
	mu        sync.Mutex
	refs      map[string]int
	notFound  map[string]bool
	blockUntil chan struct{}
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{refs: map[string]int{}, notFound: map[string]bool{}}
}

func (f *fakeLifecycle) AddRef(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[name]++
}

func (f *fakeLifecycle) RemoveRef(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[name]--
}

func (f *fakeLifecycle) Infer(ctx context.Context, name string, req lifecycle.InferRequest) (lifecycle.InferResult, error) {
	if f.notFound[name] {
		return lifecycle.InferResult{}, &errs.ModelNotFound{Name: name}
	}
	if f.blockUntil != nil {
		select {
		case <-f.blockUntil:
		case <-ctx.Done():
			return lifecycle.InferResult{}, ctx.Err()
		}
	}
	return lifecycle.InferResult{Text: "ok", TokensGenerated: 3}, nil
}

func TestInfer_Success(t *testing.T) {
	e := NewExecutor(DefaultConfig(), newFakeLifecycle(), telemetry.New())
	res, err := e.Infer(context.Background(), Request{Model: "m", Prompt: "hi", MaxTokens: 16})
	require.NoError(t, err)
	require.Equal(t, "success", res.Status)
	require.Equal(t, 3, res.TokensGenerated)
}

func TestInfer_ModelNotFoundReleasesResources(t *testing.T) {
	fl := newFakeLifecycle()
	fl.notFound["gone"] = true
	e := NewExecutor(DefaultConfig(), fl, telemetry.New())

	_, err := e.Infer(context.Background(), Request{Model: "gone", Prompt: "hi"})
	var notFound *errs.ModelNotFound
	require.ErrorAs(t, err, &notFound)
	require.EqualValues(t, 0, e.InFlight())
}

func TestInfer_BulkheadRejectsAtCapacity(t *testing.T) {
	fl := newFakeLifecycle()
	fl.blockUntil = make(chan struct{})
	cfg := Config{MaxConcurrent: 2, MaxQueueSize: 2, CallTimeout: time.Second}
	e := NewExecutor(cfg, fl, telemetry.New())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Infer(context.Background(), Request{Model: "m", MaxTokens: 4})
		}()
	}

	require.Eventually(t, func() bool {
		return e.InFlight()+e.QueueDepth() == 4
	}, time.Second, time.Millisecond)

	_, err := e.Infer(context.Background(), Request{Model: "m", MaxTokens: 4})
	var rejected *errs.BulkheadRejection
	require.ErrorAs(t, err, &rejected)

	close(fl.blockUntil)
	wg.Wait()
}
