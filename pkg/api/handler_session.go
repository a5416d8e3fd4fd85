package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// listSessionsHandler handles GET /api/v1/history/sessions. Status values
// pass through unvalidated so dashboards can probe for values this backend
// does not know yet; malformed dates are a 422.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filters := models.SessionFilters{
		Page:     1,
		PageSize: 25,
	}

	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			filters.Page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			filters.PageSize = ps
		}
	}

	filters.Status = c.QueryParam("status")
	filters.AgentType = c.QueryParam("agent_type")
	filters.AlertType = c.QueryParam("alert_type")
	filters.Search = c.QueryParam("search")

	if v := c.QueryParam("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid start_date: must be ISO 8601 / RFC3339")
		}
		filters.StartDate = &t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid end_date: must be ISO 8601 / RFC3339")
		}
		filters.EndDate = &t
	}

	result, err := s.history.ListSessions(c.Request().Context(), filters)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// getSessionHandler handles GET /api/v1/history/sessions/:id: the persisted
// detail plus the merged LLM/MCP timeline and summary counts.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	detail, err := s.history.GetSessionWithStages(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(c, err)
	}

	timeline, err := s.history.GetSessionTimeline(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(c, err)
	}

	return c.JSON(http.StatusOK, &SessionDetailResponse{
		SessionDetail:         detail,
		ChronologicalTimeline: timeline,
		Summary:               summarize(detail, timeline),
	})
}

// summarize derives the aggregate counts of the detail endpoint.
func summarize(detail *models.SessionDetail, timeline []models.TimelineEvent) SessionSummaryStats {
	stats := SessionSummaryStats{TotalStages: len(detail.Stages)}
	for _, stage := range detail.Stages {
		switch stage.Status {
		case models.StageStatusCompleted, models.StageStatusPartial:
			stats.CompletedStages++
		case models.StageStatusFailed, models.StageStatusTimedOut, models.StageStatusCancelled:
			stats.FailedStages++
		}
	}
	for _, ev := range timeline {
		switch ev.EventType {
		case models.TimelineEventLLM:
			stats.LLMInteractions++
		case models.TimelineEventMCP:
			stats.MCPInteractions++
		}
	}
	if detail.CompletedAtUS != nil {
		d := models.DurationMSFrom(detail.StartedAtUS, *detail.CompletedAtUS)
		stats.TotalDurationMS = &d
	}
	return stats
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.queue.CancelSession(c.Request().Context(), sessionID); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Session cancellation requested",
	})
}

// cancelAgentHandler handles POST /api/v1/sessions/:id/agents/:execution_id/cancel,
// cancelling one paused child of a parallel stage.
func (s *Server) cancelAgentHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	executionID := c.Param("execution_id")
	if sessionID == "" || executionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id and execution id are required")
	}

	if err := s.queue.CancelAgent(c.Request().Context(), sessionID, executionID); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Agent cancellation requested",
	})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume: append a
// user chat reply to a paused session and re-enqueue it.
func (s *Server) resumeSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ResumeSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	if err := s.queue.ResumeChat(c.Request().Context(), sessionID, req.Message); err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Session resumed with chat reply",
	})
}
