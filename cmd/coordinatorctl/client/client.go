// Package client is a minimal HTTP client for the coordinator's REST
// transport surface (internal/transport/rest), used only by
// cmd/coordinatorctl. It mirrors the plain net/http + encoding/json call
// style of the teacher's desktop.Client rather than depending on the
// server package's internal types.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running coordinatord over its REST surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client bound to baseURL, sending token as a bearer header
// when non-empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned when the coordinator responds with a non-2xx
// status; it carries the status code and the decoded error message, the
// way the server's writeError maps a typed error to `{"error": "..."}`.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status is the decoded body of GET /v1/status.
type Status struct {
	UptimeSeconds   float64 `json:"UptimeSeconds"`
	ModelsLoaded    int     `json:"ModelsLoaded"`
	ActiveInference int64   `json:"ActiveInference"`
}

// Status fetches the system status.
func (c *Client) Status() (Status, error) {
	var s Status
	err := c.do(http.MethodGet, "/v1/status", nil, &s)
	return s, err
}

// HealthCheck is one sub-check in a Health report.
type HealthCheck struct {
	Name   string `json:"Name"`
	OK     bool   `json:"OK"`
	Detail string `json:"Detail"`
}

// Health is the decoded body of GET /health.
type Health struct {
	Status string        `json:"Status"`
	Checks []HealthCheck `json:"Checks"`
}

// Health fetches the liveness report. Unlike other calls, a 503 is a valid
// (degraded) response here rather than an error, so it bypasses do's
// status-code check by hitting the endpoint directly.
func (c *Client) Health() (Health, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Model is one entry in the list_models response.
type Model struct {
	Name        string `json:"Name"`
	Source      string `json:"Source"`
	VRAMMB      int64  `json:"VRAMMB"`
	Shards      int    `json:"Shards"`
	State       string `json:"State"`
	AccessCount int64  `json:"AccessCount"`
}

// ListModels fetches GET /v1/models.
func (c *Client) ListModels() ([]Model, error) {
	var models []Model
	err := c.do(http.MethodGet, "/v1/models", nil, &models)
	return models, err
}

// LoadModelRequest is the body of POST /v1/models/{name}/load.
type LoadModelRequest struct {
	Source          string            `json:"source"`
	Shards          int               `json:"shards"`
	ServingMethod   string            `json:"serving_method"`
	EstimatedVRAMMB int64             `json:"estimated_vram_mb"`
	Quantization    string            `json:"quantization"`
	IdleTimeoutSec  int               `json:"idle_timeout_sec"`
	Priority        string            `json:"priority"`
	Params          map[string]string `json:"params"`
}

// LoadModel issues POST /v1/models/{name}/load.
func (c *Client) LoadModel(name string, req LoadModelRequest) error {
	return c.do(http.MethodPost, "/v1/models/"+name+"/load", req, nil)
}

// UnloadModel issues POST /v1/models/{name}/unload.
func (c *Client) UnloadModel(name string, force bool) error {
	path := "/v1/models/" + name + "/unload"
	if force {
		path += "?force=true"
	}
	return c.do(http.MethodPost, path, nil, nil)
}

// InferRequest is the body of POST /v1/infer.
type InferRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// InferResult is the decoded body of a successful /v1/infer call.
type InferResult struct {
	Text            string `json:"Text"`
	TokensGenerated int    `json:"TokensGenerated"`
	ElapsedMS       int64  `json:"ElapsedMS"`
	Status          string `json:"Status"`
}

// Infer issues POST /v1/infer.
func (c *Client) Infer(req InferRequest) (InferResult, error) {
	var out InferResult
	err := c.do(http.MethodPost, "/v1/infer", req, &out)
	return out, err
}
