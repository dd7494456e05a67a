package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Status{UptimeSeconds: 12, ModelsLoaded: 2, ActiveInference: 1})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	status, err := c.Status()
	require.NoError(t, err)
	require.Equal(t, 2, status.ModelsLoaded)
	require.Equal(t, int64(1), status.ActiveInference)
}

func TestClientErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not found: m"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.ListModels()
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Contains(t, apiErr.Message, "not found")
}

func TestClientHealthDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(Health{Status: "degraded", Checks: []HealthCheck{{Name: "gpu", OK: false, Detail: "degraded device"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	health, err := c.Health()
	require.NoError(t, err)
	require.Equal(t, "degraded", health.Status)
	require.Len(t, health.Checks, 1)
	require.False(t, health.Checks[0].OK)
}
