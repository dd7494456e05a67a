package loops

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/logging"
	"github.com/docker/model-ops-coordinator/internal/telemetry"
)

type fakeGPUPoller struct {
	polls int32
}

func (f *fakeGPUPoller) Poll(ctx context.Context) {
	atomic.AddInt32(&f.polls, 1)
}

type fakeIdleEvictor struct {
	candidates []string
	unloaded   []string
}

func (f *fakeIdleEvictor) IdleUnloadCandidates(now time.Time) []string {
	return f.candidates
}

func (f *fakeIdleEvictor) ForceUnload(name string) error {
	f.unloaded = append(f.unloaded, name)
	return nil
}

type fakeHealthProber struct {
	names  []string
	probed int32
}

func (f *fakeHealthProber) LoadedNames() []string {
	return f.names
}

func (f *fakeHealthProber) ProbeHealth(name string) error {
	atomic.AddInt32(&f.probed, 1)
	return nil
}

func TestScheduler_RunsAllFourLoopsAndExitsOnCancel(t *testing.T) {
	cfg := Config{
		GPUPollInterval:          5 * time.Millisecond,
		IdleCheckInterval:        5 * time.Millisecond,
		HealthProbeInterval:      5 * time.Millisecond,
		TelemetryRefreshInterval: 5 * time.Millisecond,
	}
	gpuPoller := &fakeGPUPoller{}
	idle := &fakeIdleEvictor{candidates: []string{"stale-model"}}
	health := &fakeHealthProber{names: []string{"m1"}}

	s := NewScheduler(cfg, logging.New("test"), telemetry.New(), gpuPoller, idle, health)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&gpuPoller.polls) > 0 && atomic.LoadInt32(&health.probed) > 0 && len(idle.unloaded) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit within the 5s shutdown bound")
	}
}

func TestScheduler_NilLoopsDegradeToNoOp(t *testing.T) {
	cfg := Config{
		GPUPollInterval:          5 * time.Millisecond,
		IdleCheckInterval:        5 * time.Millisecond,
		HealthProbeInterval:      5 * time.Millisecond,
		TelemetryRefreshInterval: 5 * time.Millisecond,
	}
	s := NewScheduler(cfg, logging.New("test"), telemetry.New(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit within the 5s shutdown bound")
	}
}
