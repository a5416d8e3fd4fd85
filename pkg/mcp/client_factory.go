package mcp

import (
	"context"

	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/masking"
)

// ClientFactory creates Client instances and wired ToolExecutors for sessions.
type ClientFactory struct {
	registry *config.MCPServerRegistry
	hooks    *hooks.Manager
	masker   *masking.Service

	// createClientFn overrides client construction in tests.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory. masker may be nil (masking disabled).
func NewClientFactory(registry *config.MCPServerRegistry, hookMgr *hooks.Manager, masker *masking.Service) *ClientFactory {
	return &ClientFactory{
		registry: registry,
		hooks:    hookMgr,
		masker:   masker,
	}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}

// CreateToolExecutor creates a fully-wired ToolExecutor for a session.
// This is the primary entry point used by the session executor.
func (f *ClientFactory) CreateToolExecutor(
	ctx context.Context,
	sessionID string,
	serverIDs []string,
	toolFilter map[string][]string,
) (*ToolExecutor, *Client, error) {
	client, err := f.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, nil, err
	}
	return NewToolExecutor(client, f.hooks, f.masker, sessionID, serverIDs, toolFilter), client, nil
}
