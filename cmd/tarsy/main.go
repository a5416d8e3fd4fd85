// Command tarsy runs the session execution substrate: the HTTP API, the
// worker pool that drives agent chains, and the WebSocket fabric feeding
// the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/api"
	"github.com/tarsy-bot/tarsy/pkg/cancellation"
	"github.com/tarsy-bot/tarsy/pkg/cleanup"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/database"
	"github.com/tarsy-bot/tarsy/pkg/events"
	"github.com/tarsy-bot/tarsy/pkg/history"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/masking"
	"github.com/tarsy-bot/tarsy/pkg/mcp"
	"github.com/tarsy-bot/tarsy/pkg/queue"
	"github.com/tarsy-bot/tarsy/pkg/services"
	"github.com/tarsy-bot/tarsy/pkg/slack"
	"github.com/tarsy-bot/tarsy/pkg/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", envOr("TARSY_CONFIG", ""), "Path to the YAML configuration file (builtins apply when empty)")
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No .env file loaded", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	settings := cfg.Settings

	slog.Info("Starting tarsy",
		"version", version.Full(),
		"config", *configPath,
		"api_port", settings.APIPort,
		"workers", settings.MaxWorkers)
	for _, w := range cfg.SystemWarnings() {
		slog.Warn(w)
	}

	ctx := context.Background()

	// History store. A failed connection is fatal only when history is
	// enabled; disabled history degrades the API instead.
	var dbClient *database.Client
	if settings.HistoryEnabled {
		dbClient, err = database.NewClient(ctx, database.FromSettings(settings))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := dbClient.Close(); cerr != nil {
				slog.Error("Error closing database client", "error", cerr)
			}
		}()
		slog.Info("Connected to PostgreSQL")
	}
	historyService := history.NewService(dbClient, settings.HistoryEnabled && dbClient != nil)

	// Broadcast fabric and the typed publisher on top of it.
	broadcaster := events.NewBroadcaster(events.BroadcasterOptions{
		WriteTimeout:    settings.WSWriteTimeout,
		BatchingEnabled: settings.WSBatchingEnabled,
		BatchMaxSize:    settings.WSBatchMaxSize,
		BatchMaxAge:     settings.WSBatchMaxAge,
		ThrottleLimits: map[string]events.ThrottleLimit{
			events.ChannelDashboardUpdates: {MaxMessages: 100, Window: time.Second},
		},
	})
	broadcaster.Start()
	defer broadcaster.Stop()
	publisher := events.NewPublisher(broadcaster)

	// Capture pipeline: every LLM/MCP interaction and stage transition
	// flows through the hook manager into history and the event fabric.
	hookMgr := hooks.NewManager(settings.MaxLLMMessageContentSize)
	var hookStore hooks.HistoryStore
	if historyService.Active() {
		hookStore = historyService
	}
	hooks.RegisterDefaultHooks(hookMgr, hookStore, publisher)

	masker := masking.NewService(cfg.MCPServers, masking.AlertMaskingConfig{
		Enabled:      settings.AlertMaskingEnabled,
		PatternGroup: settings.AlertMaskingPatternGroup,
	})
	warnings := services.NewSystemWarningsService()

	var mcpFactory *mcp.ClientFactory
	var healthMonitor *mcp.HealthMonitor
	if cfg.MCPServers.Len() > 0 {
		mcpFactory = mcp.NewClientFactory(cfg.MCPServers, hookMgr, masker)
		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServers, warnings)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
	}

	llmClient, err := agent.NewGRPCLLMClient(settings.LLMServiceAddr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := llmClient.Close(); cerr != nil {
			slog.Error("Error closing LLM client", "error", cerr)
		}
	}()
	slog.Info("LLM client initialized", "addr", settings.LLMServiceAddr)

	var stream agent.StreamPublisher
	if settings.EnableLLMStreaming {
		stream = publisher
	}

	tracker := cancellation.NewTracker()
	executor := queue.NewChainExecutor(cfg, historyService, llmClient, hookMgr, tracker, mcpFactory, stream)

	slackService := slack.NewService(slack.ServiceConfig{
		Token:        settings.SlackBotToken,
		Channel:      settings.SlackChannel,
		DashboardURL: settings.SlackDashboardURL,
	})

	manager := queue.NewManager(settings, historyService, executor, publisher, slackService, tracker)
	if err := manager.Start(ctx); err != nil {
		return err
	}

	var sweeper *cleanup.Sweeper
	if historyService.Active() && settings.SessionRetention > 0 {
		sweeper = cleanup.NewSweeper(historyService, settings.SessionRetention, settings.CleanupInterval)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	server := api.NewServer(cfg, dbClient, historyService, manager, broadcaster, healthMonitor, warnings, masker)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", settings.APIPort)
		if serr := server.Start(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case serr := <-errCh:
		slog.Error("HTTP server error", "error", serr)
	}

	// Drain order: stop accepting sessions and wait for active ones, then
	// close the HTTP surface. Sessions that outlive the drain window are
	// picked up by orphan recovery on the next start.
	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
