package models

import "time"

// SessionStatus is the lifecycle state of an alert session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusTimedOut   SessionStatus = "timed_out"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusTimedOut, SessionStatusCancelled:
		return true
	}
	return false
}

// CreateSessionRequest contains fields for creating a new alert session.
type CreateSessionRequest struct {
	AlertID         string              `json:"alert_id"`
	AlertData       map[string]any      `json:"alert_data"`
	AgentType       string              `json:"agent_type"`
	AlertType       string              `json:"alert_type,omitempty"`
	ChainID         string              `json:"chain_id,omitempty"`
	ChainDefinition map[string]any      `json:"chain_definition,omitempty"`
	MCPSelection    *MCPSelectionConfig `json:"mcp_selection,omitempty"`
}

// SessionFilters contains filtering options for listing sessions. Status is
// passed through unvalidated so dashboards can probe for values the backend
// does not know yet.
type SessionFilters struct {
	Status    string     `json:"status,omitempty"`
	AgentType string     `json:"agent_type,omitempty"`
	AlertType string     `json:"alert_type,omitempty"`
	Search    string     `json:"search,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Page      int        `json:"page,omitempty"`
	PageSize  int        `json:"page_size,omitempty"`
}

// Pagination describes one page of a paginated listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// SessionSummary is one row of the sessions listing.
type SessionSummary struct {
	SessionID     string        `json:"session_id"`
	AlertID       string        `json:"alert_id"`
	AlertType     string        `json:"alert_type,omitempty"`
	AgentType     string        `json:"agent_type"`
	Status        SessionStatus `json:"status"`
	StartedAtUS   int64         `json:"started_at_us"`
	CompletedAtUS *int64        `json:"completed_at_us,omitempty"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	ChainID       string        `json:"chain_id,omitempty"`
}

// SessionListResult is the paginated sessions listing.
type SessionListResult struct {
	Sessions   []SessionSummary `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// SessionDetail is the full session view returned by the detail endpoint:
// the summary plus analysis fields and the ordered stage executions.
type SessionDetail struct {
	SessionSummary

	AlertData         map[string]any   `json:"alert_data"`
	FinalAnalysis     *string          `json:"final_analysis,omitempty"`
	ExecutiveSummary  *string          `json:"executive_summary,omitempty"`
	ChainDefinition   map[string]any   `json:"chain_definition,omitempty"`
	CurrentStageIndex *int             `json:"current_stage_index,omitempty"`
	CurrentStageID    *string          `json:"current_stage_id,omitempty"`
	Stages            []StageExecution `json:"stages"`
}
