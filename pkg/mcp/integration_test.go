package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/models"
	"github.com/tarsy-bot/tarsy/pkg/services"
)

// TestIntegration_E2E_ToolExecution tests the full tool execution pipeline:
// ToolExecutor.Execute → ParseActionInput → SplitToolName → Client.CallTool → result.
func TestIntegration_E2E_ToolExecution(t *testing.T) {
	// Create an in-memory MCP server with a tool that echoes its arguments
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			// Parse the arguments to echo them back
			args := req.Params.Arguments
			var parsed map[string]any
			if err := json.Unmarshal(args, &parsed); err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error: " + err.Error()}},
					IsError: true,
				}, nil
			}

			ns, _ := parsed["namespace"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{
					Text: "pods in namespace " + ns + ": pod-1, pod-2",
				}},
			}, nil
		},
	})

	// Wire up executor
	executor := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	// Execute with JSON arguments
	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-e2e-1",
		Name:      "kubernetes.get_pods",
		Arguments: `{"namespace": "default"}`,
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "pods in namespace default")
	assert.Contains(t, result.Content, "pod-1, pod-2")

	// Execute with key-value arguments (parsing cascade)
	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-e2e-2",
		Name:      "kubernetes.get_pods",
		Arguments: "namespace: production",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "pods in namespace production")
}

// TestIntegration_MultiServer_Routing tests tool discovery and routing across multiple servers.
func TestIntegration_MultiServer_Routing(t *testing.T) {
	// Create two in-memory MCP servers
	k8sServer := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": okHandler("k8s: pods"),
	})

	ghServer := startTestServer(t, "github", map[string]mcpsdk.ToolHandler{
		"list_repos": okHandler("gh: repos"),
	})

	// Build multi-server executor
	client := newClient(newEmptyRegistry(t))
	wireSession(t, client, "kubernetes", k8sServer.clientTransport)
	wireSession(t, client, "github", ghServer.clientTransport)

	executor := NewToolExecutor(client, hooks.NewManager(0), nil, "session-test", []string{"kubernetes", "github"}, nil)
	t.Cleanup(func() { _ = executor.Close() })

	// List tools should show both servers' tools
	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "kubernetes.get_pods")
	assert.Contains(t, names, "github.list_repos")

	// Route to kubernetes
	r1, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "r1", Name: "kubernetes.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "k8s: pods", r1.Content)

	// Route to github
	r2, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "r2", Name: "github.list_repos", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "gh: repos", r2.Content)
}

// TestIntegration_GoogleNative_Normalization tests the __ → . normalization through the full pipeline.
// The LLM service may return tool call names in "server__tool" format (Gemini convention),
// which the executor normalizes back to "server.tool" for routing.
func TestIntegration_GoogleNative_Normalization(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": okHandler("native thinking works"),
	})

	executor := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	// LLM service may return tool calls in "server__tool" format from Gemini;
	// executor normalizes them back to "server.tool" for routing.
	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "nt-1",
		Name:      "kubernetes__get_pods",
		Arguments: `{"namespace": "default"}`,
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "native thinking works", result.Content)
}

// TestIntegration_ListToolsCanonicalFormat verifies tool names stay in canonical "server.tool" format.
// The LLM service handles backend-specific encoding (e.g. "server__tool" for Gemini).
func TestIntegration_ListToolsCanonicalFormat(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": okHandler("ok"),
	})

	executor := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "kubernetes.get_pods", tools[0].Name)
}

// TestIntegration_PerSessionIsolation tests that two concurrent executors from the same factory
// operate independently.
func TestIntegration_PerSessionIsolation(t *testing.T) {
	ts1 := startTestServer(t, "server1", map[string]mcpsdk.ToolHandler{
		"tool": okHandler("from session 1"),
	})

	ts2 := startTestServer(t, "server2", map[string]mcpsdk.ToolHandler{
		"tool": okHandler("from session 2"),
	})

	// Create two independent executors
	registry := newEmptyRegistry(t)
	hookMgr := hooks.NewManager(0)

	client1 := newClient(registry)
	wireSession(t, client1, "server1", ts1.clientTransport)
	exec1 := NewToolExecutor(client1, hookMgr, nil, "session-1", []string{"server1"}, nil)
	t.Cleanup(func() { _ = exec1.Close() })

	client2 := newClient(registry)
	wireSession(t, client2, "server2", ts2.clientTransport)
	exec2 := NewToolExecutor(client2, hookMgr, nil, "session-2", []string{"server2"}, nil)
	t.Cleanup(func() { _ = exec2.Close() })

	// Execute on each
	r1, err := exec1.Execute(context.Background(), agent.ToolCall{
		ID: "iso-1", Name: "server1.tool", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "from session 1", r1.Content)

	r2, err := exec2.Execute(context.Background(), agent.ToolCall{
		ID: "iso-2", Name: "server2.tool", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "from session 2", r2.Content)
}

// TestIntegration_SessionSelection runs the full selection pipeline: resolve
// the session's MCP selection against the agent's servers, build an executor
// through the factory, and verify listing and execution-time enforcement.
func TestIntegration_SessionSelection(t *testing.T) {
	ts := startTestServer(t, "kubernetes-server", map[string]mcpsdk.ToolHandler{
		"get_pods":   okHandler("pods"),
		"get_logs":   okHandler("logs"),
		"delete_pod": okHandler("deleted"),
	})

	registry := newEmptyRegistry(t)
	hookMgr, capture := newCaptureManager()
	factory := NewTestClientFactory(registry, hookMgr, func(c *Client) {
		wireSession(t, c, "kubernetes-server", ts.clientTransport)
	})

	agentServers := []string{"kubernetes-server", "github-server"}
	sel := &models.MCPSelectionConfig{
		Servers: []models.MCPServerSelection{
			{Name: "kubernetes-server", Tools: []string{"get_pods", "get_logs"}},
		},
	}

	servers, filter, err := ResolveSelection(agentServers, sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"kubernetes-server"}, servers)

	executor, client, err := factory.CreateToolExecutor(context.Background(), "session-sel", servers, filter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Listing shows only the narrowed tools.
	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	// A narrowed-away tool is rejected at execution time with an error record,
	// not a Go error.
	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "sel-1", Name: "kubernetes-server.delete_pod", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, errorTypeToolExecutionFailure)

	// A server outside the effective set is rejected the same way.
	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID: "sel-2", Name: "github-server.list_repos", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// An allowed call goes through and is captured with the session identity.
	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID: "sel-3", Name: "kubernetes-server.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "pods", result.Content)

	// One tool-list interaction plus one call; rejections capture nothing.
	interactions := capture.all()
	require.Len(t, interactions, 2)
	for _, in := range interactions {
		assert.Equal(t, "session-sel", in.SessionID)
	}
}

// TestIntegration_HealthMonitor_Lifecycle tests healthy → failure → recovery lifecycle.
func TestIntegration_HealthMonitor_Lifecycle(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": okHandler("pong"),
	})

	registry := newEmptyRegistry(t)
	warningsSvc := services.NewSystemWarningsService()
	factory := NewClientFactory(registry, hooks.NewManager(0), nil)
	monitor := NewHealthMonitor(factory, registry, warningsSvc)

	// Wire healthy client
	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	// Phase 1: Healthy
	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.GetWarnings())
	status := monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, status.ToolCount)

	// Phase 2: Simulate failure (close the session)
	client.mu.Lock()
	if session, exists := client.sessions["test-server"]; exists {
		_ = session.Close()
		delete(client.sessions, "test-server")
		delete(client.clients, "test-server")
	}
	client.mu.Unlock()

	monitor.checkServer(context.Background(), "test-server")
	assert.False(t, monitor.IsHealthy())
	warnings := warningsSvc.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryMCPHealth, warnings[0].Category)
	assert.Equal(t, "test-server", warnings[0].ServerID)
	assert.NotEmpty(t, warnings[0].Message)
	status = monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)

	// Phase 3: Simulate recovery (reconnect with new server)
	ts2 := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": okHandler("pong"),
	})
	wireSession(t, client, "test-server", ts2.clientTransport)

	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.GetWarnings())
	status = monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}

// --- Test helpers ---

// newTestExecutorFromTransport creates a single-server ToolExecutor for testing.
func newTestExecutorFromTransport(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) *ToolExecutor {
	t.Helper()

	client := newClient(newEmptyRegistry(t))
	wireSession(t, client, serverID, transport)

	executor := NewToolExecutor(client, hooks.NewManager(0), nil, "session-test", []string{serverID}, nil)
	t.Cleanup(func() { _ = executor.Close() })
	return executor
}

// wireSession connects a client to an in-memory transport and registers the session.
func wireSession(t *testing.T, client *Client, serverID string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "tarsy-test", Version: "test",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()
}

// TestIntegration_ToolFilter tests that tool filtering works end-to-end.
func TestIntegration_ToolFilter(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods":   okHandler("pods"),
		"delete_pod": okHandler("deleted"),
	})

	client := newClient(newEmptyRegistry(t))
	wireSession(t, client, "kubernetes", ts.clientTransport)

	// Only allow get_pods
	filter := map[string][]string{"kubernetes": {"get_pods"}}
	executor := NewToolExecutor(client, hooks.NewManager(0), nil, "session-test", []string{"kubernetes"}, filter)
	t.Cleanup(func() { _ = executor.Close() })

	// ListTools should only return get_pods
	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, "kubernetes.get_pods", tools[0].Name)

	// Execute allowed tool should work
	r1, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "f1", Name: "kubernetes.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, r1.IsError)
	assert.Equal(t, "pods", r1.Content)

	// Execute filtered tool should fail
	r2, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "f2", Name: "kubernetes.delete_pod", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, r2.IsError)
	assert.Contains(t, r2.Content, "not available")
}

// TestIntegration_FailedServers tests failed server tracking through the pipeline.
func TestIntegration_FailedServers(t *testing.T) {
	client := newClient(newEmptyRegistry(t))

	// Initialize with a non-existent server (failures recorded, not returned)
	_ = client.Initialize(context.Background(), []string{"broken-server"})

	failed := client.FailedServers()
	assert.Contains(t, failed, "broken-server")
	assert.NotEmpty(t, failed["broken-server"])
}

// TestIntegration_HealthMonitor_ToolCaching tests that the health monitor populates tool cache.
func TestIntegration_HealthMonitor_ToolCaching(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"tool_a": okHandler("a"),
		"tool_b": okHandler("b"),
	})

	registry, err := config.NewMCPServerRegistry(nil, map[string]*config.MCPServerConfig{
		"test-server": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"}},
	})
	require.NoError(t, err)
	warningsSvc := services.NewSystemWarningsService()
	factory := NewClientFactory(registry, hooks.NewManager(0), nil)
	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.pingTimeout = 5 * time.Second

	// Wire client
	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	// Run health check
	monitor.checkServer(context.Background(), "test-server")

	// Tool cache should be populated
	cached := monitor.GetCachedTools()
	require.Contains(t, cached, "test-server")
	assert.Len(t, cached["test-server"], 2)
}
