package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/logging"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

type fakeLifecycle struct {
	models map[string]lifecycle.LoadedModel
}

func (f *fakeLifecycle) Load(ctx context.Context, d lifecycle.Descriptor) error {
	f.models[d.Name] = lifecycle.LoadedModel{Descriptor: d, State: lifecycle.StateLoaded}
	return nil
}
func (f *fakeLifecycle) Unload(ctx context.Context, name string, force bool) error {
	delete(f.models, name)
	return nil
}
func (f *fakeLifecycle) List() []lifecycle.LoadedModel {
	out := make([]lifecycle.LoadedModel, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	return out
}
func (f *fakeLifecycle) Status(name string) (lifecycle.State, error) {
	return f.models[name].State, nil
}

type fakeGPU struct{}

func (f *fakeGPU) AcquireLease(req gpu.LeaseRequest) gpu.LeaseGrant {
	return gpu.LeaseGrant{Granted: true}
}
func (f *fakeGPU) ReleaseLease(leaseID string) {}

type fakeInference struct{}

func (f *fakeInference) Infer(ctx context.Context, req inference.Request) (inference.Result, error) {
	return inference.Result{Text: "hi", Status: "success"}, nil
}
func (f *fakeInference) InFlight() int64 { return 0 }

type fakeLearning struct{}

func (f *fakeLearning) Submit(ctx context.Context, jobType learning.JobType, model, dataset string, params map[string]string) (string, error) {
	return "job-1", nil
}
func (f *fakeLearning) Status(jobID string) (*learning.Job, error) { return &learning.Job{JobID: jobID}, nil }
func (f *fakeLearning) List(filter learning.Status) ([]learning.Job, error) { return nil, nil }
func (f *fakeLearning) Cancel(jobID string) (bool, error)                   { return true, nil }

type fakeGoals struct{}

func (f *fakeGoals) Create(title, description string, priority goals.Priority, metadata map[string]string) string {
	return "goal-1"
}
func (f *fakeGoals) Get(id string) (*goals.Goal, bool)      { return &goals.Goal{GoalID: id}, true }
func (f *fakeGoals) List(status goals.Status) []goals.Goal { return nil }
func (f *fakeGoals) Cancel(id string) bool                  { return true }

func startTestServer(t *testing.T, secret string) (*grpc.ClientConn, func()) {
	t.Helper()
	coord := coordinator.New(&fakeLifecycle{models: map[string]lifecycle.LoadedModel{}}, &fakeGPU{}, &fakeInference{}, &fakeLearning{}, &fakeGoals{})
	srv := NewServer(Config{SharedSecret: secret}, coord, logging.New("test"))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		srv.GracefulStop()
	}
}

func TestRPC_StatusRoundTrip(t *testing.T) {
	conn, cleanup := startTestServer(t, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp coordinator.SystemStatus
	err := conn.Invoke(ctx, "/modeops.Coordinator/Status", &StatusRequest{}, &resp)
	require.NoError(t, err)
}

func TestRPC_LoadThenListModels(t *testing.T) {
	conn, cleanup := startTestServer(t, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var loadResp OKResponse
	err := conn.Invoke(ctx, "/modeops.Coordinator/LoadModel", &LoadModelRequest{Name: "m1"}, &loadResp)
	require.NoError(t, err)
	require.True(t, loadResp.OK)

	var listResp ListModelsResponse
	err = conn.Invoke(ctx, "/modeops.Coordinator/ListModels", &ListModelsRequest{}, &listResp)
	require.NoError(t, err)
	require.Len(t, listResp.Models, 1)
}
