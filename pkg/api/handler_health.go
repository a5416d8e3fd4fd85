package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-bot/tarsy/pkg/database"
	"github.com/tarsy-bot/tarsy/pkg/services"
	"github.com/tarsy-bot/tarsy/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusDisabled  = "disabled"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Only tarsy's own components decide the
// HTTP status; MCP server health and warnings are attached as detail so an
// orchestrator never restarts tarsy over an external dependency.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:        healthStatusHealthy,
		Version:       version.GitCommit,
		Checks:        make(map[string]HealthCheck),
		Configuration: s.cfg.Stats(),
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(ctx, s.dbClient.DB())
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	} else {
		resp.Checks["database"] = HealthCheck{Status: healthStatusDisabled, Message: "history store disabled"}
	}

	if s.queue != nil {
		pool := s.queue.Health(ctx)
		resp.WorkerPool = pool
		if pool != nil && !pool.IsHealthy {
			if resp.Status == healthStatusHealthy {
				resp.Status = healthStatusDegraded
			}
			resp.Checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded}
		} else {
			resp.Checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.mcpHealth != nil {
		resp.MCPHealth = s.mcpHealth.GetStatuses()
	}
	if s.warnings != nil {
		resp.Warnings = s.warnings.GetWarnings()
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}

// historyHealthHandler handles GET /api/v1/history/health.
func (s *Server) historyHealthHandler(c *echo.Context) error {
	resp := &HistoryHealthResponse{
		Service:   "history",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Details:   map[string]any{"enabled": s.history.Active()},
	}

	switch {
	case !s.history.Active():
		resp.Status = healthStatusDisabled
	default:
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Details["error"] = err.Error()
		} else {
			resp.Status = healthStatusHealthy
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// versionHandler handles GET /api/v1/version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		Name:    version.AppName,
		Version: version.GitCommit,
	})
}

// systemWarningsHandler handles GET /api/v1/system/warnings.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	out := &SystemWarningsResponse{Warnings: []*services.SystemWarning{}}
	if s.warnings != nil {
		out.Warnings = append(out.Warnings, s.warnings.GetWarnings()...)
	}
	return c.JSON(http.StatusOK, out)
}
