// Package api is the HTTP surface: alert submission, read-only history
// endpoints, session control (cancel, per-agent cancel, chat resume), the
// dashboard WebSocket upgrade, and health. Handlers are thin request
// translation; all execution semantics live behind the queue manager and
// the history facade.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/database"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/masking"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/models"
	"github.com/tarsy-bot/tarsy/pkg/queue"
	"github.com/tarsy-bot/tarsy/pkg/services"
)

// HistoryStore is the slice of the history facade the API reads and writes.
// *history.Service satisfies it; handler tests substitute fakes.
type HistoryStore interface {
	Active() bool
	Ping(ctx context.Context) error
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (string, error)
	ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResult, error)
	GetSessionWithStages(ctx context.Context, sessionID string) (*models.SessionDetail, error)
	GetSessionTimeline(ctx context.Context, sessionID string) ([]models.TimelineEvent, error)
}

// SessionQueue is the slice of the queue manager the API drives.
type SessionQueue interface {
	Enqueue(sessionID string) error
	CancelSession(ctx context.Context, sessionID string) error
	CancelAgent(ctx context.Context, sessionID, executionID string) error
	ResumeChat(ctx context.Context, sessionID, message string) error
	Health(ctx context.Context) *queue.PoolHealth
}

// Server wires the echo router to the execution substrate.
type Server struct {
	cfg         *config.Config
	dbClient    *database.Client
	history     HistoryStore
	queue       SessionQueue
	broadcaster *events.Broadcaster
	mcpHealth   *mcp.HealthMonitor
	warnings    *services.SystemWarningsService
	masker      *masking.Service

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the API server. dbClient, broadcaster, mcpHealth,
// warnings, and masker may be nil; the affected endpoints degrade instead
// of panicking.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	historyStore HistoryStore,
	sessionQueue SessionQueue,
	broadcaster *events.Broadcaster,
	mcpHealth *mcp.HealthMonitor,
	warnings *services.SystemWarningsService,
	masker *masking.Service,
) *Server {
	s := &Server{
		cfg:         cfg,
		dbClient:    dbClient,
		history:     historyStore,
		queue:       sessionQueue,
		broadcaster: broadcaster,
		mcpHealth:   mcpHealth,
		warnings:    warnings,
		masker:      masker,
		echo:        echo.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(requestLogger())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/version", s.versionHandler)
	v1.POST("/alerts", s.submitAlertHandler)

	v1.GET("/history/sessions", s.listSessionsHandler)
	v1.GET("/history/sessions/:id", s.getSessionHandler)
	v1.GET("/history/health", s.historyHealthHandler)

	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.POST("/sessions/:id/agents/:execution_id/cancel", s.cancelAgentHandler)
	v1.POST("/sessions/:id/resume", s.resumeSessionHandler)

	v1.GET("/system/warnings", s.systemWarningsHandler)
	v1.GET("/ws", s.wsHandler)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP on the configured port until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Settings.APIPort),
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
