package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_NoDatabase(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "disabled", resp.Checks["database"].Status)
	assert.Equal(t, "healthy", resp.Checks["worker_pool"].Status)
	assert.NotZero(t, resp.Configuration.Chains)
}

func TestHistoryHealth_Healthy(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/history/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "history", resp.Service)
}

func TestHistoryHealth_Disabled(t *testing.T) {
	s, hist, _ := newTestServer(t)
	hist.active = false

	rec := doRequest(t, s, http.MethodGet, "/api/v1/history/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "disabled", resp.Status)
}

func TestHistoryHealth_PingFails(t *testing.T) {
	s, hist, _ := newTestServer(t)
	hist.pingErr = errors.New("connection refused")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/history/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Details, "error")
}

func TestSystemWarnings(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.warnings.AddWarning("mcp_health", "kubernetes-server unreachable", "dial tcp: refused", "kubernetes-server")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/system/warnings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemWarningsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "kubernetes-server unreachable", resp.Warnings[0].Message)
}
