package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

type fakeGPU struct {
	mu        sync.Mutex
	allocated map[string]int64
	failNext  bool
}

func newFakeGPU() *fakeGPU { return &fakeGPU{allocated: map[string]int64{}} }

func (g *fakeGPU) Allocate(ctx context.Context, name string, requiredMB int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext {
		g.failNext = false
		return &errs.GPUUnavailable{RequiredMB: requiredMB, AvailableMB: 0}
	}
	g.allocated[name] = requiredMB
	return nil
}

func (g *fakeGPU) Free(ctx context.Context, name string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	mb := g.allocated[name]
	delete(g.allocated, name)
	return mb
}

func (g *fakeGPU) Touch(ctx context.Context, name string) {}

type fakeEstimator struct{}

func (fakeEstimator) Estimate(declaredMB int64, source string, fileSizeMB int64, shards int) int64 {
	if declaredMB > 0 {
		return declaredMB
	}
	return fileSizeMB * 2
}

func newTestFile(t *testing.T, sizeBytes int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, sizeBytes), 0o644))
	return path
}

func newTestManager(t *testing.T) (*Manager, *fakeGPU) {
	gpuMgr := newFakeGPU()
	m := NewManager(DefaultConfig(), logging.New("test"), telemetry.New(), gpuMgr, fakeEstimator{}, NewDefaultBackendFactory())
	return m, gpuMgr
}

func TestLoad_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	d := Descriptor{Name: "m", Source: newTestFile(t, 1024 * 1024), Shards: 1, ServingMethod: ServingLocalDirect}
	require.NoError(t, m.Load(context.Background(), d))
	require.NoError(t, m.Load(context.Background(), d))

	state, err := m.Status("m")
	require.NoError(t, err)
	require.Equal(t, StateLoaded, state)
}

func TestUnload_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Unload(context.Background(), "nope", false)
	var notFound *errs.ModelNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestUnload_RefusesWithReferences(t *testing.T) {
	m, _ := newTestManager(t)
	d := Descriptor{Name: "m", Source: newTestFile(t, 1024), Shards: 1, ServingMethod: ServingLocalDirect}
	require.NoError(t, m.Load(context.Background(), d))
	m.AddRef("m")

	err := m.Unload(context.Background(), "m", false)
	require.Error(t, err)

	require.NoError(t, m.Unload(context.Background(), "m", true))
}

func TestLoad_ConcurrentCallersShareResult(t *testing.T) {
	m, _ := newTestManager(t)
	d := Descriptor{Name: "shared", Source: newTestFile(t, 2048), Shards: 1, ServingMethod: ServingLocalDirect}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- m.Load(context.Background(), d)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Len(t, m.List(), 1)
}

func TestLoad_FailureSetsStateFailed(t *testing.T) {
	m, gpuMgr := newTestManager(t)
	gpuMgr.failNext = true
	d := Descriptor{Name: "bad", Source: newTestFile(t, 1024), Shards: 1, ServingMethod: ServingLocalDirect}

	err := m.Load(context.Background(), d)
	require.Error(t, err)
	state, statusErr := m.Status("bad")
	require.NoError(t, statusErr)
	require.Equal(t, StateFailed, state)
}

func TestEvictionCandidates_SkipsCriticalAndReferenced(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, Descriptor{Name: "crit", Source: newTestFile(t, 1024), Priority: PriorityCritical, ServingMethod: ServingLocalDirect}))
	require.NoError(t, m.Load(ctx, Descriptor{Name: "busy", Source: newTestFile(t, 1024), ServingMethod: ServingLocalDirect}))
	require.NoError(t, m.Load(ctx, Descriptor{Name: "free", Source: newTestFile(t, 1024), ServingMethod: ServingLocalDirect}))
	m.AddRef("busy")

	candidates := m.EvictionCandidates()
	require.Equal(t, []string{"free"}, candidates)
}
