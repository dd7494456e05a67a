// Package msgsocket implements the message-socket transport surface
// (spec.md §6, C8): one gorilla/websocket connection per client, carrying
// JSON envelopes of {correlation_id, op, payload} -- the idiomatic-Go
// analogue of the spec's "message socket" transport (no ZMQ binding exists
// anywhere in the retrieved pack). Grounded on the upgrade/read-loop/
// dispatch-by-type shape in
// jontk-slurm-client/pkg/streaming/websocket.go's WebSocketServer.
package msgsocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/logging"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

// Op enumerates the wire-level operations spec.md §6 names.
type Op string

const (
	OpInfer              Op = "infer"
	OpLoadModel          Op = "load_model"
	OpUnloadModel        Op = "unload_model"
	OpListModels         Op = "list_models"
	OpAcquireGPULease    Op = "acquire_gpu_lease"
	OpReleaseGPULease    Op = "release_gpu_lease"
	OpSubmitLearningJob  Op = "submit_learning_job"
	OpGetLearningJob     Op = "get_learning_job"
	OpListLearningJobs   Op = "list_learning_jobs"
	OpCancelLearningJob  Op = "cancel_learning_job"
	OpCreateGoal         Op = "create_goal"
	OpListGoals          Op = "list_goals"
	OpCancelGoal         Op = "cancel_goal"
	OpStatus             Op = "status"
	OpHealth             Op = "health"
)

// Envelope is the request/response framing every message carries,
// spec.md §6's "each request carries a caller-generated correlation id;
// responses echo it".
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Op            Op              `json:"op"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Server upgrades incoming HTTP connections and services one read/dispatch
// loop per connection.
type Server struct {
	coord    *coordinator.Coordinator
	log      logging.Logger
	upgrader websocket.Upgrader
}

func NewServer(coord *coordinator.Coordinator, log logging.Logger) *Server {
	return &Server{
		coord: coord,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		reply := s.dispatch(ctx, env)
		if err := conn.WriteJSON(reply); err != nil {
			s.log.WithError(err).Warn("websocket write failed")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, env Envelope) Envelope {
	reply := Envelope{CorrelationID: env.CorrelationID, Op: env.Op}
	payload, err := s.handle(ctx, env)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	data, err := json.Marshal(payload)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Payload = data
	return reply
}

func (s *Server) handle(ctx context.Context, env Envelope) (any, error) {
	switch env.Op {
	case OpInfer:
		var req inference.Request
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return s.coord.Infer(ctx, req)
	case OpLoadModel:
		var d lifecycle.Descriptor
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, err
		}
		if err := s.coord.LoadModel(ctx, d); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	case OpUnloadModel:
		var req struct {
			Name  string `json:"name"`
			Force bool   `json:"force"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		if err := s.coord.UnloadModel(ctx, req.Name, req.Force); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	case OpListModels:
		return s.coord.ListModels(), nil
	case OpAcquireGPULease:
		var req gpu.LeaseRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return s.coord.AcquireGPULease(req), nil
	case OpReleaseGPULease:
		var req struct {
			LeaseID string `json:"lease_id"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		s.coord.ReleaseGPULease(req.LeaseID)
		return map[string]bool{"ok": true}, nil
	case OpSubmitLearningJob:
		var req struct {
			JobType string            `json:"job_type"`
			Model   string            `json:"model"`
			Dataset string            `json:"dataset"`
			Params  map[string]string `json:"params"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		jobID, err := s.coord.SubmitLearningJob(ctx, learning.JobType(req.JobType), req.Model, req.Dataset, req.Params)
		if err != nil {
			return nil, err
		}
		return map[string]string{"job_id": jobID}, nil
	case OpGetLearningJob:
		var req struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return s.coord.GetLearningJob(req.JobID)
	case OpListLearningJobs:
		var req struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(env.Payload, &req)
		return s.coord.ListLearningJobs(learning.Status(req.Status))
	case OpCancelLearningJob:
		var req struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		ok, err := s.coord.CancelLearningJob(req.JobID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"ok": ok}, nil
	case OpCreateGoal:
		var req struct {
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Priority    string            `json:"priority"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		goalID := s.coord.CreateGoal(req.Title, req.Description, goals.Priority(req.Priority), req.Metadata)
		return map[string]string{"goal_id": goalID}, nil
	case OpListGoals:
		var req struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(env.Payload, &req)
		return s.coord.ListGoals(goals.Status(req.Status)), nil
	case OpCancelGoal:
		var req struct {
			GoalID string `json:"goal_id"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": s.coord.CancelGoal(req.GoalID)}, nil
	case OpStatus:
		return s.coord.Status(), nil
	case OpHealth:
		return s.coord.Health(), nil
	default:
		return nil, unknownOpError(env.Op)
	}
}

type unknownOpError Op

func (e unknownOpError) Error() string {
	return "unknown op: " + string(e)
}
