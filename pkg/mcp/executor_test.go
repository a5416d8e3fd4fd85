package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/hooks"
	"github.com/tarsy-bot/tarsy/pkg/masking"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// captureMCPHook records every MCP interaction delivered through the hook fabric.
type captureMCPHook struct {
	mu           sync.Mutex
	interactions []*models.MCPInteraction
}

func (h *captureMCPHook) Name() string { return "test.capture" }

func (h *captureMCPHook) Execute(_ context.Context, interaction *models.MCPInteraction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interactions = append(h.interactions, interaction)
	return nil
}

func (h *captureMCPHook) all() []*models.MCPInteraction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.interactions)
}

// newCaptureManager builds a hook manager with a capture hook registered for
// both MCP call and tool-list interactions.
func newCaptureManager() (*hooks.Manager, *captureMCPHook) {
	capture := &captureMCPHook{}
	hookMgr := hooks.NewManager(0)
	hookMgr.RegisterMCPCallHook(capture)
	hookMgr.RegisterMCPListHook(capture)
	return hookMgr, capture
}

// wireTestServer starts an in-memory MCP server and wires its session into the client.
func wireTestServer(t *testing.T, client *Client, serverID string, tools map[string]mcpsdk.ToolHandler) {
	t.Helper()
	ts := startTestServer(t, serverID, tools)
	wireSession(t, client, serverID, ts.clientTransport)
}

// newTestExecutor creates a ToolExecutor with in-memory MCP servers and a
// capture hook observing the interactions it records.
func newTestExecutor(t *testing.T, servers map[string]map[string]mcpsdk.ToolHandler) (*ToolExecutor, *captureMCPHook) {
	t.Helper()

	client := newClient(newEmptyRegistry(t))
	var serverIDs []string

	for serverID, tools := range servers {
		wireTestServer(t, client, serverID, tools)
		serverIDs = append(serverIDs, serverID)
	}

	hookMgr, capture := newCaptureManager()
	executor := NewToolExecutor(client, hookMgr, nil, "session-test", serverIDs, nil)
	t.Cleanup(func() { _ = executor.Close() })
	return executor, capture
}

func okHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func TestToolExecutor_Execute_JSON(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("pod-1, pod-2")},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-1",
		Name:      "kubernetes.get_pods",
		Arguments: `{"namespace": "default"}`,
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "pod-1, pod-2", result.Content)
	assert.Equal(t, "call-1", result.CallID)
}

func TestToolExecutor_Execute_KeyValue(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-2",
		Name:      "kubernetes.get_pods",
		Arguments: "namespace: default",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Content)
}

func TestToolExecutor_Execute_NativeThinkingName(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	// NativeThinking uses __ instead of .
	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-3",
		Name:      "kubernetes__get_pods",
		Arguments: `{"namespace": "default"}`,
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Content)
}

func TestToolExecutor_Execute_CapturesInteraction(t *testing.T) {
	executor, capture := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("pod-1, pod-2")},
	})

	_, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-cap",
		Name:      "kubernetes.get_pods",
		Arguments: `{"namespace": "default"}`,
	})
	require.NoError(t, err)

	interactions := capture.all()
	require.Len(t, interactions, 1)

	in := interactions[0]
	assert.Equal(t, "session-test", in.SessionID)
	assert.Nil(t, in.StageExecutionID)
	assert.Equal(t, "kubernetes", in.ServerName)
	assert.Equal(t, models.CommunicationTypeToolCall, in.CommunicationType)
	require.NotNil(t, in.ToolName)
	assert.Equal(t, "get_pods", *in.ToolName)
	assert.Equal(t, map[string]any{"namespace": "default"}, in.ToolArguments)
	assert.True(t, in.Success)
	require.NotNil(t, in.ToolResult)
	assert.Equal(t, "pod-1, pod-2", in.ToolResult["content"])
	assert.Equal(t, false, in.ToolResult["is_error"])
	assert.Equal(t, "Execute get_pods on kubernetes", in.StepDescription)
}

func TestToolExecutor_ForStage(t *testing.T) {
	executor, capture := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	stageExecutor := executor.ForStage("stage-123")

	_, err := stageExecutor.Execute(context.Background(), agent.ToolCall{
		ID: "call-stage", Name: "kubernetes.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)

	// The base executor stays unbound so its captures carry no stage identity.
	_, err = executor.Execute(context.Background(), agent.ToolCall{
		ID: "call-base", Name: "kubernetes.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)

	interactions := capture.all()
	require.Len(t, interactions, 2)
	require.NotNil(t, interactions[0].StageExecutionID)
	assert.Equal(t, "stage-123", *interactions[0].StageExecutionID)
	assert.Nil(t, interactions[1].StageExecutionID)
}

func TestToolExecutor_WithResultBudget(t *testing.T) {
	large := strings.Repeat("line of pod output\n", 500)
	executor, capture := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_logs": okHandler(large)},
	})

	budgeted := executor.WithResultBudget(100) // 400 chars

	result, err := budgeted.Execute(context.Background(), agent.ToolCall{
		ID: "call-budget", Name: "kubernetes.get_logs", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Less(t, len(result.Content), len(large))
	assert.Contains(t, result.Content, "[TRUNCATED: Tool result exceeded token budget")

	// The budget only narrows what the LLM sees; the captured record keeps
	// the content up to the storage limit.
	interactions := capture.all()
	require.Len(t, interactions, 1)
	captured, _ := interactions[0].ToolResult["content"].(string)
	assert.Equal(t, large, captured)

	// The base executor stays uncapped.
	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID: "call-full", Name: "kubernetes.get_logs", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, large, result.Content)
}

func TestToolExecutor_Execute_UnknownServer(t *testing.T) {
	executor, capture := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-4",
		Name:      "nonexistent.get_pods",
		Arguments: "{}",
	})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not available")

	// Rejected calls yield a structured error record the LLM can learn from,
	// and no interaction is captured for them.
	var record toolErrorRecord
	require.NoError(t, json.Unmarshal([]byte(result.Content), &record))
	assert.Equal(t, "nonexistent.get_pods", record.Tool)
	assert.Equal(t, errorTypeToolExecutionFailure, record.ErrorType)
	assert.Empty(t, capture.all())
}

func TestToolExecutor_Execute_ToolFilterRejected(t *testing.T) {
	client := newClient(newEmptyRegistry(t))
	wireTestServer(t, client, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods":   okHandler("ok"),
		"delete_pod": okHandler("ok"),
	})

	hookMgr, capture := newCaptureManager()
	filter := map[string][]string{"kubernetes": {"get_pods"}}
	executor := NewToolExecutor(client, hookMgr, nil, "session-test", []string{"kubernetes"}, filter)
	t.Cleanup(func() { _ = executor.Close() })

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "call-filtered", Name: "kubernetes.delete_pod", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not available on server")
	assert.Contains(t, result.Content, errorTypeToolExecutionFailure)
	assert.Empty(t, capture.all())

	// Allowed tool still passes.
	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID: "call-allowed", Name: "kubernetes.get_pods", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestToolExecutor_Execute_InvalidToolName(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-5",
		Name:      "just_a_tool",
		Arguments: "{}",
	})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid tool name")
}

func TestToolExecutor_Execute_MCPError(t *testing.T) {
	executor, capture := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {
			"bad_tool": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "something went wrong"}},
					IsError: true,
				}, nil
			},
		},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-6",
		Name:      "kubernetes.bad_tool",
		Arguments: "{}",
	})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "something went wrong")

	// A tool-reported error is still a successful protocol exchange.
	interactions := capture.all()
	require.Len(t, interactions, 1)
	assert.True(t, interactions[0].Success)
	assert.Equal(t, true, interactions[0].ToolResult["is_error"])
}

func TestToolExecutor_ExecuteBatch(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {
			"get_pods": okHandler("pods"),
			"get_logs": okHandler("logs"),
		},
		"github": {
			"list_repos": okHandler("repos"),
		},
	})

	results := executor.ExecuteBatch(context.Background(), []agent.ToolCall{
		{ID: "b-1", Name: "kubernetes.get_pods", Arguments: "{}"},
		{ID: "b-2", Name: "kubernetes.get_logs", Arguments: "{}"},
		{ID: "b-3", Name: "github.list_repos", Arguments: "{}"},
		{ID: "b-4", Name: "not-a-tool", Arguments: "{}"},
	})

	require.Len(t, results["kubernetes"], 2)
	assert.Equal(t, "pods", results["kubernetes"][0].Content)
	assert.Equal(t, "logs", results["kubernetes"][1].Content)

	require.Len(t, results["github"], 1)
	assert.Equal(t, "repos", results["github"][0].Content)

	require.Len(t, results["unknown"], 1)
	assert.True(t, results["unknown"][0].IsError)
}

func TestToolExecutor_ListTools(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {
			"get_pods": okHandler("ok"),
			"get_logs": okHandler("ok"),
		},
	})

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "kubernetes.get_pods")
	assert.Contains(t, names, "kubernetes.get_logs")
}

func TestToolExecutor_ListTools_MultiServer(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
		"github":     {"list_repos": okHandler("ok")},
	})

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "kubernetes.get_pods")
	assert.Contains(t, names, "github.list_repos")
}

func TestToolExecutor_ListTools_WithFilter(t *testing.T) {
	client := newClient(newEmptyRegistry(t))
	wireTestServer(t, client, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods":   okHandler("ok"),
		"get_logs":   okHandler("ok"),
		"delete_pod": okHandler("ok"),
	})

	hookMgr, capture := newCaptureManager()

	// Only allow get_pods and get_logs
	filter := map[string][]string{
		"kubernetes": {"get_pods", "get_logs"},
	}
	executor := NewToolExecutor(client, hookMgr, nil, "session-test", []string{"kubernetes"}, filter)
	t.Cleanup(func() { _ = executor.Close() })

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "kubernetes.get_pods")
	assert.Contains(t, names, "kubernetes.get_logs")
	assert.NotContains(t, names, "kubernetes.delete_pod")

	// The captured listing matches what the LLM sees: filtered.
	interactions := capture.all()
	require.Len(t, interactions, 1)
	in := interactions[0]
	assert.Equal(t, models.CommunicationTypeToolList, in.CommunicationType)
	assert.True(t, in.Success)
	require.Len(t, in.AvailableTools, 2)
	captured := []string{in.AvailableTools[0].Name, in.AvailableTools[1].Name}
	assert.NotContains(t, captured, "delete_pod")
}

func TestToolExecutor_Close(t *testing.T) {
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {"get_pods": okHandler("ok")},
	})

	// Close should not error
	err := executor.Close()
	assert.NoError(t, err)
}

// --- Masking integration tests ---

// newTestExecutorWithMasking creates a ToolExecutor with masking enabled.
func newTestExecutorWithMasking(
	t *testing.T,
	serverID string,
	tools map[string]mcpsdk.ToolHandler,
	serverCfg *config.MCPServerConfig,
) (*ToolExecutor, *captureMCPHook) {
	t.Helper()

	registry, err := config.NewMCPServerRegistry(nil, map[string]*config.MCPServerConfig{
		serverID: serverCfg,
	})
	require.NoError(t, err)

	maskingService := masking.NewService(registry, masking.AlertMaskingConfig{})

	client := newClient(registry)
	wireTestServer(t, client, serverID, tools)

	hookMgr, capture := newCaptureManager()
	executor := NewToolExecutor(client, hookMgr, maskingService, "session-test", []string{serverID}, nil)
	t.Cleanup(func() { _ = executor.Close() })
	return executor, capture
}

func TestToolExecutor_Execute_MaskingApplied(t *testing.T) {
	executor, capture := newTestExecutorWithMasking(t, "kubernetes",
		map[string]mcpsdk.ToolHandler{
			"get_secrets": okHandler(`Found config:
api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX"
password: "FAKE-DB-PASSWORD-NOT-REAL"
debug: true`),
		},
		&config.MCPServerConfig{
			Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"},
			DataMasking: &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"basic"},
			},
		},
	)

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "mask-1", Name: "kubernetes.get_secrets", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.NotContains(t, result.Content, "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX", "API key should be masked")
	assert.NotContains(t, result.Content, "FAKE-DB-PASSWORD-NOT-REAL", "Password should be masked")
	assert.Contains(t, result.Content, "[MASKED_API_KEY]")
	assert.Contains(t, result.Content, "[MASKED_PASSWORD]")
	assert.Contains(t, result.Content, "debug: true", "Non-sensitive content should be preserved")

	// Masking happens before capture: the recorded copy is clean too.
	interactions := capture.all()
	require.Len(t, interactions, 1)
	captured, _ := interactions[0].ToolResult["content"].(string)
	assert.NotContains(t, captured, "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX")
	assert.NotContains(t, captured, "FAKE-DB-PASSWORD-NOT-REAL")
}

func TestToolExecutor_Execute_MaskingK8sSecret(t *testing.T) {
	executor, _ := newTestExecutorWithMasking(t, "kubernetes",
		map[string]mcpsdk.ToolHandler{
			"get_secret": okHandler(`apiVersion: v1
kind: Secret
metadata:
  name: db-creds
  namespace: production
type: Opaque
data:
  DB_PASSWORD: c3VwZXJzZWNyZXQ=
  DB_USER: YWRtaW4=`),
		},
		&config.MCPServerConfig{
			Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"},
			DataMasking: &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"kubernetes"},
			},
		},
	)

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "mask-k8s", Name: "kubernetes.get_secret", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.NotContains(t, result.Content, "c3VwZXJzZWNyZXQ=", "Secret data should be masked")
	assert.NotContains(t, result.Content, "YWRtaW4=", "Secret data should be masked")
	assert.Contains(t, result.Content, "[MASKED_SECRET_DATA]")
	assert.Contains(t, result.Content, "kind: Secret", "Metadata should be preserved")
}

func TestToolExecutor_Execute_MaskingSkipsConfigMap(t *testing.T) {
	executor, _ := newTestExecutorWithMasking(t, "kubernetes",
		map[string]mcpsdk.ToolHandler{
			"get_configmap": okHandler(`apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
data:
  DATABASE_URL: postgresql://localhost:5432/mydb
  DEBUG: "true"`),
		},
		&config.MCPServerConfig{
			Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"},
			DataMasking: &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"kubernetes"},
			},
		},
	)

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "mask-cm", Name: "kubernetes.get_configmap", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	// ConfigMap data should NOT be masked by the kubernetes_secret masker
	assert.Contains(t, result.Content, "postgresql://localhost:5432/mydb")
	assert.Contains(t, result.Content, "kind: ConfigMap")
}

func TestToolExecutor_Execute_MaskingDisabled(t *testing.T) {
	executor, _ := newTestExecutorWithMasking(t, "kubernetes",
		map[string]mcpsdk.ToolHandler{
			"get_data": okHandler(`api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX"`),
		},
		&config.MCPServerConfig{
			Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"},
			DataMasking: &config.MaskingConfig{
				Enabled:       false, // Masking disabled
				PatternGroups: []string{"basic"},
			},
		},
	)

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "mask-off", Name: "kubernetes.get_data", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.Contains(t, result.Content, "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX",
		"Content should pass through when masking is disabled")
}

func TestToolExecutor_Execute_NilService(t *testing.T) {
	// Use the standard newTestExecutor which passes nil for masking
	executor, _ := newTestExecutor(t, map[string]map[string]mcpsdk.ToolHandler{
		"kubernetes": {
			"get_data": okHandler(`api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX"`),
		},
	})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID: "mask-nil", Name: "kubernetes.get_data", Arguments: "{}",
	})

	require.NoError(t, err)
	assert.Contains(t, result.Content, "sk-FAKE-NOT-REAL-API-KEY-XXXXXXXXXXXX",
		"Content should pass through with nil masking service")
}
