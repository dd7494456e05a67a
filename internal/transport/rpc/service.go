package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// coordinatorServer is the HandlerType ServiceDesc methods are invoked
// against -- the same Coordinator facade the REST surface uses.
type coordinatorServer struct {
	coord *coordinator.Coordinator
}

// LoadModelRequest/Response and friends mirror the REST surface's JSON
// bodies, since both transports share the same wire-level operations
// (spec.md §6). LoadModelRequest carries the model name in the body rather
// than the path and has no quantization or idle_timeout_sec field.
type LoadModelRequest struct {
	Name            string            `json:"name"`
	Source          string            `json:"source"`
	Shards          int               `json:"shards"`
	ServingMethod   string            `json:"serving_method"`
	EstimatedVRAMMB int64             `json:"estimated_vram_mb"`
	Priority        string            `json:"priority"`
	Params          map[string]string `json:"params"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type InferRequest = inference.Request
type InferResponse = inference.Result

type ListModelsRequest struct{}
type ListModelsResponse struct {
	Models []lifecycle.LoadedModel `json:"models"`
}

type UnloadModelRequest struct {
	Name  string `json:"name"`
	Force bool   `json:"force"`
}

type AcquireLeaseRequest = gpu.LeaseRequest
type AcquireLeaseResponse = gpu.LeaseGrant

type ReleaseLeaseRequest struct {
	LeaseID string `json:"lease_id"`
}

type SubmitLearningJobRequest struct {
	JobType string            `json:"job_type"`
	Model   string            `json:"model"`
	Dataset string            `json:"dataset"`
	Params  map[string]string `json:"params"`
}
type SubmitLearningJobResponse struct {
	JobID string `json:"job_id"`
}

type CreateGoalRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Metadata    map[string]string `json:"metadata"`
}
type CreateGoalResponse struct {
	GoalID string `json:"goal_id"`
}

type StatusRequest struct{}
type HealthRequest struct{}

func (s *coordinatorServer) loadModel(ctx context.Context, req *LoadModelRequest) (*OKResponse, error) {
	d := lifecycle.Descriptor{
		Name:            req.Name,
		Source:          req.Source,
		Shards:          req.Shards,
		ServingMethod:   lifecycle.ServingMethod(req.ServingMethod),
		EstimatedVRAMMB: req.EstimatedVRAMMB,
		Priority:        lifecycle.Priority(req.Priority),
		Params:          req.Params,
	}
	if err := s.coord.LoadModel(ctx, d); err != nil {
		return nil, toGRPCError(err)
	}
	return &OKResponse{OK: true}, nil
}

func (s *coordinatorServer) unloadModel(ctx context.Context, req *UnloadModelRequest) (*OKResponse, error) {
	if err := s.coord.UnloadModel(ctx, req.Name, req.Force); err != nil {
		return nil, toGRPCError(err)
	}
	return &OKResponse{OK: true}, nil
}

func (s *coordinatorServer) listModels(ctx context.Context, req *ListModelsRequest) (*ListModelsResponse, error) {
	return &ListModelsResponse{Models: s.coord.ListModels()}, nil
}

func (s *coordinatorServer) infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	res, err := s.coord.Infer(ctx, *req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &res, nil
}

func (s *coordinatorServer) acquireLease(ctx context.Context, req *AcquireLeaseRequest) (*AcquireLeaseResponse, error) {
	grant := s.coord.AcquireGPULease(*req)
	return &grant, nil
}

func (s *coordinatorServer) releaseLease(ctx context.Context, req *ReleaseLeaseRequest) (*OKResponse, error) {
	s.coord.ReleaseGPULease(req.LeaseID)
	return &OKResponse{OK: true}, nil
}

func (s *coordinatorServer) submitLearningJob(ctx context.Context, req *SubmitLearningJobRequest) (*SubmitLearningJobResponse, error) {
	jobID, err := s.coord.SubmitLearningJob(ctx, learning.JobType(req.JobType), req.Model, req.Dataset, req.Params)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &SubmitLearningJobResponse{JobID: jobID}, nil
}

func (s *coordinatorServer) createGoal(ctx context.Context, req *CreateGoalRequest) (*CreateGoalResponse, error) {
	goalID := s.coord.CreateGoal(req.Title, req.Description, goals.Priority(req.Priority), req.Metadata)
	return &CreateGoalResponse{GoalID: goalID}, nil
}

func (s *coordinatorServer) status(ctx context.Context, req *StatusRequest) (*coordinator.SystemStatus, error) {
	st := s.coord.Status()
	return &st, nil
}

func (s *coordinatorServer) health(ctx context.Context, req *HealthRequest) (*coordinator.HealthReport, error) {
	report := s.coord.Health()
	return &report, nil
}

// toGRPCError maps the typed error taxonomy from spec.md §7 to grpc status
// codes, the RPC-surface analogue of rest.writeError's HTTP mapping.
func toGRPCError(err error) error {
	code := codes.Internal
	switch err.(type) {
	case *errs.ModelNotFound:
		code = codes.NotFound
	case *errs.ModelLoadError, *errs.ModelUnloadError, *errs.InferenceError, *errs.LearningJobError, *errs.GoalError:
		code = codes.FailedPrecondition
	case *errs.GPUUnavailable, *errs.VRAMExhausted, *errs.CircuitOpen:
		code = codes.Unavailable
	case *errs.BulkheadRejection:
		code = codes.ResourceExhausted
	}
	return status.Error(code, err.Error())
}

// unaryHandler adapts one of coordinatorServer's typed methods into the
// func(interface{}, context.Context, func(interface{}) error,
// grpc.UnaryServerInterceptor) signature grpc.MethodDesc requires, the
// hand-written analogue of what protoc-gen-go-grpc would otherwise emit.
func unaryHandler[Req, Resp any](call func(*coordinatorServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*coordinatorServer)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceDesc is the hand-written grpc.ServiceDesc registered in place of
// a protoc-generated one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "modeops.Coordinator",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadModel", Handler: unaryHandler(func(s *coordinatorServer, ctx context.Context, req *LoadModelRequest) (*OKResponse, error) {
			return s.loadModel(ctx, req)
		})},
		{MethodName: "UnloadModel", Handler: unaryHandler(func(s *coordinatorServer, ctx context.Context, req *UnloadModelRequest) (*OKResponse, error) {
			return s.unloadModel(ctx, req)
		})},
		{MethodName: "ListModels", Handler: unaryHandler(func(s *coordinatorServer, ctx context.Context, req *ListModelsRequest) (*ListModelsResponse, error) {
			return s.listModels(ctx, req)
		})},
		{MethodName: "Infer", Handler: unaryHandler((*coordinatorServer).infer)},
		{MethodName: "AcquireGPULease", Handler: unaryHandler((*coordinatorServer).acquireLease)},
		{MethodName: "ReleaseGPULease", Handler: unaryHandler((*coordinatorServer).releaseLease)},
		{MethodName: "SubmitLearningJob", Handler: unaryHandler((*coordinatorServer).submitLearningJob)},
		{MethodName: "CreateGoal", Handler: unaryHandler((*coordinatorServer).createGoal)},
		{MethodName: "Status", Handler: unaryHandler((*coordinatorServer).status)},
		{MethodName: "Health", Handler: unaryHandler((*coordinatorServer).health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modeops/coordinator.proto",
}

// RegisterCoordinatorServer wires coord into grpcServer under ServiceDesc.
func RegisterCoordinatorServer(grpcServer *grpc.Server, coord *coordinator.Coordinator) {
	grpcServer.RegisterService(&ServiceDesc, &coordinatorServer{coord: coord})
}

// correlationIDKey is the metadata key carrying the caller-generated
// correlation id spec.md §6 requires every request to carry and every
// response to echo.
const correlationIDKey = "correlation-id"

// CorrelationIDInterceptor echoes the incoming correlation-id metadata
// back in the response trailer, or assigns none if the caller didn't send
// one. msgsocket echoes the envelope's correlation_id inline; the REST
// surface neither reads nor echoes a correlation id.
func CorrelationIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(correlationIDKey); len(ids) > 0 {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(correlationIDKey, ids[0]))
		}
	}
	return handler(ctx, req)
}

// AuthInterceptor enforces the same bearer-token policy as the REST
// surface's authMiddleware, fed the same shared secret.
func AuthInterceptor(sharedSecret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if sharedSecret == "" {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		tokens := md.Get("authorization")
		if len(tokens) == 0 || tokens[0] != "Bearer "+sharedSecret {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}
