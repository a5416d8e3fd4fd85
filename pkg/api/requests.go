package api

import "github.com/tarsy-bot/tarsy/pkg/models"

// SubmitAlertRequest is the body of POST /api/v1/alerts.
type SubmitAlertRequest struct {
	AlertType string                     `json:"alert_type"`
	Data      map[string]any             `json:"data"`
	Runbook   string                     `json:"runbook,omitempty"`
	Severity  string                     `json:"severity,omitempty"`
	Timestamp int64                      `json:"timestamp,omitempty"`
	MCP       *models.MCPSelectionConfig `json:"mcp,omitempty"`
}

// ResumeSessionRequest is the body of POST /api/v1/sessions/:id/resume.
type ResumeSessionRequest struct {
	Message string `json:"message"`
}
