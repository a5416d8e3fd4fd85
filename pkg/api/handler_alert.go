package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// submitAlertHandler handles POST /api/v1/alerts: validate the payload and
// its MCP selection against the chain that will run, persist a pending
// session, and enqueue it. Returns 202 with the session id.
func (s *Server) submitAlertHandler(c *echo.Context) error {
	var req SubmitAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AlertType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "alert_type field is required")
	}
	if len(req.Data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "data field is required")
	}

	raw, err := json.Marshal(req.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "data field is not serializable")
	}
	if len(raw) > agent.MaxAlertDataSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("alert data exceeds maximum size of %d bytes", agent.MaxAlertDataSize))
	}

	chain, err := s.cfg.Chains.GetByAlertType(req.AlertType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("no chain configured for alert type %q", req.AlertType))
	}

	// Reject bad MCP selections before any stage runs: server subsets per
	// dispatched agent, then tool names against the advertised catalogue.
	if req.MCP != nil {
		if err := mcp.ValidateSelectionForChain(chain, s.cfg.Agents, req.MCP); err != nil {
			return mapError(c, err)
		}
		if s.mcpHealth != nil {
			if err := mcp.ValidateToolSelection(req.MCP, s.mcpHealth.GetCachedTools()); err != nil {
				return mapError(c, err)
			}
		}
	}

	sessionID, err := s.history.CreateSession(c.Request().Context(), models.CreateSessionRequest{
		AlertID:         uuid.NewString(),
		AlertData:       s.alertDataFor(req),
		AgentType:       chain.ChainID,
		AlertType:       req.AlertType,
		ChainID:         chain.ChainID,
		ChainDefinition: chainSnapshot(chain),
		MCPSelection:    req.MCP,
	})
	if err != nil {
		return mapError(c, err)
	}
	if sessionID == "" {
		// History disabled: nothing to execute against, reject loudly
		// rather than pretending a session exists.
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			"history store is disabled; alert processing is unavailable")
	}

	if err := s.queue.Enqueue(sessionID); err != nil {
		return mapError(c, err)
	}

	return c.JSON(http.StatusAccepted, &AlertResponse{
		SessionID: sessionID,
		Status:    "queued",
		Message:   "Alert submitted for processing",
	})
}

// alertDataFor merges the alert payload with the reserved runbook and
// severity keys the executor reads back from the session row, applying
// alert masking (fail-open) to the payload first.
func (s *Server) alertDataFor(req SubmitAlertRequest) map[string]any {
	data := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	if s.masker != nil {
		if raw, err := json.Marshal(data); err == nil {
			masked := s.masker.MaskAlertData(string(raw))
			var remasked map[string]any
			if err := json.Unmarshal([]byte(masked), &remasked); err == nil {
				data = remasked
			}
		}
	}
	if req.Runbook != "" {
		data["runbook"] = req.Runbook
	}
	if req.Severity != "" {
		data["severity"] = req.Severity
	}
	return data
}

// chainSnapshot captures the chain definition on the session row so the
// recorded history stays meaningful after the configuration changes.
func chainSnapshot(chain *config.ChainConfig) map[string]any {
	stages := make([]any, 0, len(chain.Stages))
	for i := range chain.Stages {
		st := &chain.Stages[i]
		entry := map[string]any{"name": st.Name}
		if st.Agent != "" {
			entry["agent"] = st.Agent
		}
		if len(st.Agents) > 0 {
			names := make([]any, 0, len(st.Agents))
			for _, a := range st.Agents {
				names = append(names, a.Name)
			}
			entry["agents"] = names
		}
		if st.Replicas > 1 {
			entry["replicas"] = st.Replicas
		}
		if st.IsParallel() {
			entry["success_policy"] = string(st.EffectiveSuccessPolicy())
		}
		if st.IterationStrategy != "" {
			entry["iteration_strategy"] = string(st.IterationStrategy)
		}
		if st.LLMProvider != "" {
			entry["llm_provider"] = st.LLMProvider
		}
		if st.MaxIterations > 0 {
			entry["max_iterations"] = st.MaxIterations
		}
		if st.ForceConclusion {
			entry["force_conclusion_at_max_iterations"] = true
		}
		if st.Synthesis != nil {
			entry["synthesis"] = map[string]any{"agent": st.Synthesis.Agent}
		}
		stages = append(stages, entry)
	}
	return map[string]any{
		"chain_id": chain.ChainID,
		"stages":   stages,
	}
}
