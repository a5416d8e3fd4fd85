package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-bot/tarsy/pkg/history"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/queue"
)

// SelectionErrorResponse is the structured rejection for MCP selections
// naming servers or tools outside the allowed sets. Both sets are returned
// so the caller can correct the request without guessing.
type SelectionErrorResponse struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"` // mcp_server_selection | mcp_tool_selection
	Server    string   `json:"server,omitempty"`
	Requested []string `json:"requested"`
	Available []string `json:"available"`
}

// mapError translates downstream errors to HTTP responses. Selection
// errors get a structured 400 body; everything unexpected collapses into a
// logged 500.
func mapError(c *echo.Context, err error) error {
	var serverSel *mcp.ServerSelectionError
	if errors.As(err, &serverSel) {
		return c.JSON(http.StatusBadRequest, &SelectionErrorResponse{
			Error:     serverSel.Error(),
			Kind:      "mcp_server_selection",
			Requested: serverSel.Requested,
			Available: serverSel.Available,
		})
	}
	var toolSel *mcp.ToolSelectionError
	if errors.As(err, &toolSel) {
		return c.JSON(http.StatusBadRequest, &SelectionErrorResponse{
			Error:     toolSel.Error(),
			Kind:      "mcp_tool_selection",
			Server:    toolSel.Server,
			Requested: toolSel.Requested,
			Available: toolSel.Available,
		})
	}

	var validErr *history.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}

	switch {
	case errors.Is(err, history.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, history.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, queue.ErrSessionFinished):
		return echo.NewHTTPError(http.StatusConflict, "session already finished")
	case errors.Is(err, queue.ErrSessionNotPaused):
		return echo.NewHTTPError(http.StatusConflict, "session is not paused")
	case errors.Is(err, queue.ErrAgentNotPaused):
		return echo.NewHTTPError(http.StatusConflict, "agent execution is not paused")
	case errors.Is(err, queue.ErrParallelPaused):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrHistoryUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history store unavailable")
	case errors.Is(err, queue.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session queue is full")
	case errors.Is(err, queue.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	slog.Error("Unexpected error in API handler", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
