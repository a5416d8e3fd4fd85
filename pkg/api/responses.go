package api

import (
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/database"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/models"
	"github.com/tarsy-bot/tarsy/pkg/queue"
	"github.com/tarsy-bot/tarsy/pkg/services"
)

// AlertResponse is returned by POST /api/v1/alerts.
type AlertResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CancelResponse is returned by the cancellation and resume endpoints.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionDetailResponse is the full session view: the persisted detail plus
// the merged LLM/MCP timeline (ordered by microsecond timestamps) and
// aggregate counts.
type SessionDetailResponse struct {
	*models.SessionDetail

	ChronologicalTimeline []models.TimelineEvent `json:"chronological_timeline"`
	Summary               SessionSummaryStats    `json:"summary"`
}

// SessionSummaryStats aggregates a session's recorded activity.
type SessionSummaryStats struct {
	TotalStages     int  `json:"total_stages"`
	CompletedStages int  `json:"completed_stages"`
	FailedStages    int  `json:"failed_stages"`
	LLMInteractions int  `json:"llm_interactions"`
	MCPInteractions int  `json:"mcp_interactions"`
	TotalDurationMS *int `json:"total_duration_ms,omitempty"`
}

// HistoryHealthResponse is returned by GET /api/v1/history/health.
type HistoryHealthResponse struct {
	Service   string         `json:"service"`
	Status    string         `json:"status"` // healthy | degraded | disabled | unhealthy
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	Checks        map[string]HealthCheck       `json:"checks"`
	Database      *database.HealthStatus       `json:"database,omitempty"`
	WorkerPool    *queue.PoolHealth            `json:"worker_pool,omitempty"`
	MCPHealth     map[string]*mcp.HealthStatus `json:"mcp_health,omitempty"`
	Warnings      []*services.SystemWarning    `json:"warnings,omitempty"`
	Configuration config.Stats                 `json:"configuration"`
}

// HealthCheck is one named component's health verdict.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// VersionResponse is returned by GET /api/v1/version.
type VersionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SystemWarningsResponse is returned by GET /api/v1/system/warnings.
type SystemWarningsResponse struct {
	Warnings []*services.SystemWarning `json:"warnings"`
}
