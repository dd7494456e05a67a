package learning

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

// countingRunner records how many times Run is invoked per job, so a test
// can assert the same job is never dispatched twice concurrently.
type countingRunner struct {
	stepInterval time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newCountingRunner(stepInterval time.Duration) *countingRunner {
	return &countingRunner{stepInterval: stepInterval, calls: map[string]int{}}
}

func (r *countingRunner) Run(ctx context.Context, job Job, progress func(p float64) bool) (string, error) {
	r.mu.Lock()
	r.calls[job.JobID]++
	r.mu.Unlock()

	time.Sleep(r.stepInterval)
	progress(1)
	return "done", nil
}

func (r *countingRunner) callCount(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[jobID]
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db")
	s, err := OpenStore(dsn)
	require.NoError(t, err)
	return s
}

func TestSubmitAndStatus(t *testing.T) {
	store := newTestStore(t)
	runner := &SimulatedRunner{StepInterval: time.Millisecond, Steps: 3}
	c := NewCoordinator(store, logging.New("test"), telemetry.New(), runner, 2)
	require.NoError(t, c.Start(context.Background()))

	id, err := c.Submit(context.Background(), JobFineTune, "m", "ds", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := c.Status(id)
		return err == nil && job != nil && job.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancel_PendingJobMarkedImmediately(t *testing.T) {
	store := newTestStore(t)
	runner := &SimulatedRunner{StepInterval: time.Second, Steps: 5}
	c := NewCoordinator(store, logging.New("test"), telemetry.New(), runner, 1)
	require.NoError(t, c.Start(context.Background()))

	// Fill the single running slot with a long job, then submit a second
	// that stays pending.
	_, err := c.Submit(context.Background(), JobFineTune, "m1", "ds", nil)
	require.NoError(t, err)
	pendingID, err := c.Submit(context.Background(), JobFineTune, "m2", "ds", nil)
	require.NoError(t, err)

	ok, err := c.Cancel(pendingID)
	require.NoError(t, err)
	require.True(t, ok)

	job, err := c.Status(pendingID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, job.Status)
}

func TestTryStartNext_NeverDispatchesSameJobTwice(t *testing.T) {
	store := newTestStore(t)
	runner := newCountingRunner(20 * time.Millisecond)
	c := NewCoordinator(store, logging.New("test"), telemetry.New(), runner, 2)
	require.NoError(t, c.Start(context.Background()))

	const jobs = 20
	ids := make([]string, jobs)

	// Submit concurrently and let completions race their own tryStartNext
	// calls against fresh Submits, the scenario the claim-under-lock fix
	// guards against.
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Submit(context.Background(), JobFineTune, "m", "ds", nil)
			require.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := c.Status(id)
			if err != nil || job == nil || job.Status != StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		require.Equal(t, 1, runner.callCount(id), "job %s dispatched more than once", id)
	}
}

func TestDemoteRunningToPendingOnRestart(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.Insert(Job{JobID: "stuck", Status: StatusRunning, CreatedAt: now, UpdatedAt: now}))

	require.NoError(t, store.DemoteRunningToPending())

	job, ok, err := store.Get("stuck")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPending, job.Status)
}
