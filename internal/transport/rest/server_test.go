package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/logging"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

type fakeLifecycle struct {
	models map[string]lifecycle.LoadedModel
	err    error
}

func (f *fakeLifecycle) Load(ctx context.Context, d lifecycle.Descriptor) error {
	if f.err != nil {
		return f.err
	}
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
	m, ok := f.models[name]
	if !ok {
		return "", &errs.ModelNotFound{Name: name}
	}
	return m.State, nil
}

type fakeGPU struct{}

func (f *fakeGPU) AcquireLease(req gpu.LeaseRequest) gpu.LeaseGrant {
	return gpu.LeaseGrant{Granted: true, LeaseID: "lease-1"}
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
func (f *fakeLearning) Status(jobID string) (*learning.Job, error) {
	return &learning.Job{JobID: jobID, Status: learning.StatusRunning}, nil
}
func (f *fakeLearning) List(filter learning.Status) ([]learning.Job, error) { return nil, nil }
func (f *fakeLearning) Cancel(jobID string) (bool, error)                   { return true, nil }

type fakeGoals struct{}

func (f *fakeGoals) Create(title, description string, priority goals.Priority, metadata map[string]string) string {
	return "goal-1"
}
func (f *fakeGoals) Get(id string) (*goals.Goal, bool)      { return &goals.Goal{GoalID: id}, true }
func (f *fakeGoals) List(status goals.Status) []goals.Goal { return nil }
func (f *fakeGoals) Cancel(id string) bool                  { return true }

func newTestServer(t *testing.T, secret, env string) (*Server, *fakeLifecycle) {
	t.Helper()
	lc := &fakeLifecycle{models: map[string]lifecycle.LoadedModel{}}
	coord := coordinator.New(lc, &fakeGPU{}, &fakeInference{}, &fakeLearning{}, &fakeGoals{})
	s, err := NewServer(Config{Port: 0, SharedSecret: secret, Environment: env}, coord, logging.New("test"))
	require.NoError(t, err)
	return s, lc
}

func TestNewServer_FailsClosedInProductionWithoutSecret(t *testing.T) {
	_, err := NewServer(Config{Environment: "production"}, nil, logging.New("test"))
	require.Error(t, err)
	require.IsType(t, &errs.ConfigurationError{}, err)
}

func TestLoadModel_RoundTrip(t *testing.T) {
	s, lc := newTestServer(t, "", "development")
	body := strings.NewReader(`{"source":"hf://m1","shards":1}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/models/m1/load", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, lc.models, "m1")
}

func TestUnauthorized_WithoutBearerToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", "development")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorized_WithBearerToken(t *testing.T) {
	s, _ := newTestServer(t, "secret", "development")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_BypassesAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret", "development")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var report map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	require.Equal(t, "ok", report["Status"])
}

func TestModelNotFound_MapsTo404(t *testing.T) {
	lc := &fakeLifecycle{models: map[string]lifecycle.LoadedModel{}, err: &errs.ModelNotFound{Name: "m1"}}
	coord := coordinator.New(lc, &fakeGPU{}, &fakeInference{}, &fakeLearning{}, &fakeGoals{})
	s, err := NewServer(Config{Environment: "development"}, coord, logging.New("test"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/m1/load", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCircuitOpen_MapsTo503WithRetryAfter(t *testing.T) {
	lc := &fakeLifecycle{models: map[string]lifecycle.LoadedModel{}, err: &errs.CircuitOpen{Operation: "load", FailureCount: 4, RetryAfterSec: 20}}
	coord := coordinator.New(lc, &fakeGPU{}, &fakeInference{}, &fakeLearning{}, &fakeGoals{})
	s, err := NewServer(Config{Environment: "development"}, coord, logging.New("test"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/m1/load", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "20", w.Header().Get("Retry-After"))
}

func TestBulkheadRejection_MapsTo429(t *testing.T) {
	lc := &fakeLifecycle{models: map[string]lifecycle.LoadedModel{}, err: &errs.BulkheadRejection{Operation: "inference", Current: 2, Max: 2}}
	coord := coordinator.New(lc, &fakeGPU{}, &fakeInference{}, &fakeLearning{}, &fakeGoals{})
	s, err := NewServer(Config{Environment: "development"}, coord, logging.New("test"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/m1/load", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Empty(t, w.Header().Get("Retry-After"))
}
