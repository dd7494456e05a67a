package gpu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

type fakeHook struct {
	protected map[string]bool
	unloaded  []string
	freeOnUnload func(name string)
}

func (h *fakeHook) EvictionCandidates() []string {
	var out []string
	for name, protected := range h.protected {
		if !protected {
			out = append(out, name)
		}
	}
	return out
}

func (h *fakeHook) ForceUnload(name string) error {
	h.unloaded = append(h.unloaded, name)
	if h.freeOnUnload != nil {
		h.freeOnUnload(name)
	}
	return nil
}

func newTestManager(t *testing.T, softLimit int64) *Manager {
	t.Helper()
	probe := &MockDeviceProbe{Devices: []Device{{Index: 0, Name: "gpu0", TotalVRAMMB: 24000}}}
	m := NewManager(Config{SoftLimitMB: softLimit, EvictionThresholdPct: 90}, logging.New("test"), telemetry.New(), probe, NewMemorySideStore())
	require.NoError(t, m.Start(context.Background(), map[string]bool{}))
	return m
}

func TestAllocate_BoundaryExactAndOverBudget(t *testing.T) {
	m := newTestManager(t, 9000)
	require.NoError(t, m.Allocate(context.Background(), "exact", 9000))

	m2 := newTestManager(t, 9000)
	err := m2.Allocate(context.Background(), "over", 9001)
	require.Error(t, err)
}

func TestAllocate_IdempotentTouch(t *testing.T) {
	m := newTestManager(t, 9000)
	ctx := context.Background()
	require.NoError(t, m.Allocate(ctx, "m", 5000))
	require.NoError(t, m.Allocate(ctx, "m", 5000))
	usage := m.Usage()
	require.EqualValues(t, 5000, usage.AllocatedMB)
}

func TestEviction_SelectsLRUThenLFU(t *testing.T) {
	m := newTestManager(t, 22000)
	ctx := context.Background()
	require.NoError(t, m.Allocate(ctx, "a", 8000))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.Allocate(ctx, "b", 8000))

	hook := &fakeHook{protected: map[string]bool{"a": false, "b": false}, freeOnUnload: func(name string) {
		m.Free(ctx, name)
	}}
	m.SetLifecycleHook(hook)

	err := m.Allocate(ctx, "c", 8000)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, hook.unloaded)
}

func TestEviction_SkipsCriticalProtected(t *testing.T) {
	m := newTestManager(t, 9000)
	ctx := context.Background()
	require.NoError(t, m.Allocate(ctx, "critical-model", 9000))

	hook := &fakeHook{protected: map[string]bool{"critical-model": true}}
	m.SetLifecycleHook(hook)

	err := m.Allocate(ctx, "new", 1000)
	require.Error(t, err)
	require.Empty(t, hook.unloaded)
}

func TestAcquireAndReleaseLease(t *testing.T) {
	m := newTestManager(t, 22000)
	grant := m.AcquireLease(LeaseRequest{Client: "A", ModelName: "big", VRAMEstimateMB: 20000, TTLSec: 30})
	require.True(t, grant.Granted)

	denied := m.AcquireLease(LeaseRequest{Client: "B", ModelName: "big2", VRAMEstimateMB: 4000, TTLSec: 30})
	require.False(t, denied.Granted)
	require.Equal(t, "Insufficient VRAM", denied.Reason)

	m.ReleaseLease(grant.LeaseID)
	retry := m.AcquireLease(LeaseRequest{Client: "B", ModelName: "big2", VRAMEstimateMB: 4000, TTLSec: 30})
	require.True(t, retry.Granted)

	// Releasing an already-released or unknown lease is a no-op success.
	m.ReleaseLease(grant.LeaseID)
	m.ReleaseLease("does-not-exist")
}

func TestFree_ReturnsZeroWhenAbsent(t *testing.T) {
	m := newTestManager(t, 9000)
	require.EqualValues(t, 0, m.Free(context.Background(), "nope"))
}
