// Package rest implements the REST transport surface (spec.md §6, C8):
// gorilla/mux routing, bearer-token auth, and a typed-error-to-HTTP-status
// mapping, all built against the internal/coordinator facade so handler
// code never touches component internals directly. Grounded on the
// mux.Vars/mux.NewRouter handler style used throughout
// helixml-helix/api/pkg/server.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/docker/model-ops-coordinator/internal/gpu"
	"github.com/docker/model-ops-coordinator/internal/inference"
	"github.com/docker/model-ops-coordinator/internal/learning"
	"github.com/docker/model-ops-coordinator/internal/lifecycle"
	"github.com/docker/model-ops-coordinator/internal/logging"

	"github.com/docker/model-ops-coordinator/internal/goals"
)

// Config carries the auth.shared_secret and environment settings from
// spec.md §6.
type Config struct {
	Port         int
	SharedSecret string
	Environment  string
}

// Server is the REST transport surface.
type Server struct {
	cfg   Config
	coord *coordinator.Coordinator
	log   logging.Logger
	mux   *mux.Router
}

// NewServer builds the router. Per spec.md §6, startup fails closed: in
// production/staging, an empty SharedSecret is a ConfigurationError rather
// than an open server.
func NewServer(cfg Config, coord *coordinator.Coordinator, log logging.Logger) (*Server, error) {
	if cfg.SharedSecret == "" && isProductionLike(cfg.Environment) {
		return nil, &errs.ConfigurationError{Key: "auth.shared_secret", Reason: "must be set in production/staging"}
	}

	s := &Server{cfg: cfg, coord: coord, log: log, mux: mux.NewRouter()}
	s.routes()
	return s, nil
}

func isProductionLike(env string) bool {
	return env == "production" || env == "staging"
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	api := s.mux.NewRoute().Subrouter()
	if s.cfg.SharedSecret != "" {
		api.Use(s.authMiddleware)
	}

	api.HandleFunc("/v1/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/v1/models/{name}/load", s.handleLoadModel).Methods(http.MethodPost)
	api.HandleFunc("/v1/models/{name}/unload", s.handleUnloadModel).Methods(http.MethodPost)
	api.HandleFunc("/v1/infer", s.handleInfer).Methods(http.MethodPost)
	api.HandleFunc("/v1/gpu/leases", s.handleAcquireLease).Methods(http.MethodPost)
	api.HandleFunc("/v1/gpu/leases/{lease_id}", s.handleReleaseLease).Methods(http.MethodDelete)
	api.HandleFunc("/v1/learning-jobs", s.handleSubmitLearningJob).Methods(http.MethodPost)
	api.HandleFunc("/v1/learning-jobs", s.handleListLearningJobs).Methods(http.MethodGet)
	api.HandleFunc("/v1/learning-jobs/{id}", s.handleGetLearningJob).Methods(http.MethodGet)
	api.HandleFunc("/v1/learning-jobs/{id}/cancel", s.handleCancelLearningJob).Methods(http.MethodPost)
	api.HandleFunc("/v1/goals", s.handleCreateGoal).Methods(http.MethodPost)
	api.HandleFunc("/v1/goals", s.handleListGoals).Methods(http.MethodGet)
	api.HandleFunc("/v1/goals/{id}/cancel", s.handleCancelGoal).Methods(http.MethodPost)
	api.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)

	// health is intentionally outside the authenticated subrouter: liveness
	// probes must not require a bearer token.
	s.mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token != s.cfg.SharedSecret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the typed error taxonomy from spec.md §7 to HTTP status
// codes: CircuitOpen gets its own 503 (with a Retry-After header) distinct
// from BulkheadRejection's 429, per spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch e := err.(type) {
	case *errs.ModelNotFound:
		status = http.StatusNotFound
	case *errs.ModelLoadError, *errs.ModelUnloadError, *errs.InferenceError, *errs.LearningJobError, *errs.GoalError:
		status = http.StatusUnprocessableEntity
	case *errs.GPUUnavailable, *errs.VRAMExhausted:
		status = http.StatusServiceUnavailable
	case *errs.CircuitOpen:
		status = http.StatusServiceUnavailable
		retryAfter := e.RetryAfterSec
		if retryAfter <= 0 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	case *errs.BulkheadRejection:
		status = http.StatusTooManyRequests
	case *errs.ConfigurationError:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type loadModelRequest struct {
	Source          string            `json:"source"`
	Shards          int               `json:"shards"`
	ServingMethod   string            `json:"serving_method"`
	EstimatedVRAMMB int64             `json:"estimated_vram_mb"`
	Quantization    string            `json:"quantization"`
	IdleTimeoutSec  int               `json:"idle_timeout_sec"`
	Priority        string            `json:"priority"`
	Params          map[string]string `json:"params"`
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req loadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d := lifecycle.Descriptor{
		Name:            name,
		Source:          req.Source,
		Shards:          req.Shards,
		ServingMethod:   lifecycle.ServingMethod(req.ServingMethod),
		EstimatedVRAMMB: req.EstimatedVRAMMB,
		Quantization:    req.Quantization,
		IdleTimeoutSec:  req.IdleTimeoutSec,
		Priority:        lifecycle.Priority(req.Priority),
		Params:          req.Params,
	}
	if err := s.coord.LoadModel(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	force := r.URL.Query().Get("force") == "true"
	if err := s.coord.UnloadModel(r.Context(), name, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.ListModels())
}

type inferRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	ConversationID string  `json:"conversation_id"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.coord.Infer(r.Context(), inference.Request{
		Model:          req.Model,
		Prompt:         req.Prompt,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAcquireLease(w http.ResponseWriter, r *http.Request) {
	var req gpu.LeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.AcquireGPULease(req))
}

func (s *Server) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	s.coord.ReleaseGPULease(mux.Vars(r)["lease_id"])
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type submitLearningJobRequest struct {
	JobType string            `json:"job_type"`
	Model   string            `json:"model"`
	Dataset string            `json:"dataset"`
	Params  map[string]string `json:"params"`
}

func (s *Server) handleSubmitLearningJob(w http.ResponseWriter, r *http.Request) {
	var req submitLearningJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	jobID, err := s.coord.SubmitLearningJob(r.Context(), learning.JobType(req.JobType), req.Model, req.Dataset, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (s *Server) handleGetLearningJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.GetLearningJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListLearningJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.coord.ListLearningJobs(learning.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancelLearningJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.coord.CancelLearningJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

type createGoalRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	goalID := s.coord.CreateGoal(req.Title, req.Description, goals.Priority(req.Priority), req.Metadata)
	writeJSON(w, http.StatusOK, map[string]string{"goal_id": goalID})
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.ListGoals(goals.Status(r.URL.Query().Get("status"))))
}

func (s *Server) handleCancelGoal(w http.ResponseWriter, r *http.Request) {
	ok := s.coord.CancelGoal(mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.coord.Health()
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
