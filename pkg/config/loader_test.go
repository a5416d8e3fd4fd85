package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tarsy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadBuiltinsOnly(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Built-in definitions alone form a working configuration
	assert.True(t, cfg.Agents.Has("KubernetesAgent"))
	assert.True(t, cfg.Agents.Has("SynthesisAgent"))
	assert.True(t, cfg.Chains.Has("kubernetes-agent-chain"))
	assert.True(t, cfg.MCPServers.Has("kubernetes-server"))
	assert.True(t, cfg.LLMProviders.Has("google-default"))

	chain, err := cfg.Chains.GetByAlertType("kubernetes")
	require.NoError(t, err)
	assert.Equal(t, "kubernetes-agent-chain", chain.ChainID)
}

func TestLoadUserConfig(t *testing.T) {
	path := writeConfig(t, `
agents:
  DatabaseAgent:
    description: "Investigates database alerts"
    mcp_servers: ["kubernetes-server"]
    iteration_strategy: native-thinking
    max_iterations: 10

agent_chains:
  database-chain:
    alert_types: ["database"]
    stages:
      - name: "triage"
        agent: "DatabaseAgent"
      - name: "deep-dive"
        agent: "KubernetesAgent"
        force_conclusion_at_max_iterations: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	agent, err := cfg.Agents.Get("DatabaseAgent")
	require.NoError(t, err)
	assert.Equal(t, IterationStrategyNativeThinking, agent.IterationStrategy)
	assert.Equal(t, 10, agent.MaxIterations)

	chain, err := cfg.Chains.Get("database-chain")
	require.NoError(t, err)
	require.Len(t, chain.Stages, 2)
	assert.False(t, chain.Stages[0].ForceConclusion)
	assert.True(t, chain.Stages[1].ForceConclusion)
}

func TestLoadRejectsBuiltinAgentCollision(t *testing.T) {
	path := writeConfig(t, `
agents:
  KubernetesAgent:
    description: "shadows the built-in"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides with built-in agent")
}

func TestLoadRejectsBuiltinMCPServerCollision(t *testing.T) {
	path := writeConfig(t, `
mcp_servers:
  kubernetes-server:
    transport:
      type: stdio
      command: "echo"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides with built-in MCP server")
}

func TestLoadAllowsProviderOverride(t *testing.T) {
	t.Setenv("MY_KEY", "  secret-with-whitespace \n")
	path := writeConfig(t, `
llm_providers:
  google-default:
    type: google
    model: gemini-custom
    api_key_env: MY_KEY
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.LLMProviders.Get("google-default")
	require.NoError(t, err)
	assert.Equal(t, "gemini-custom", p.Model)
	// Keys are stripped of surrounding whitespace at load time
	assert.Equal(t, "secret-with-whitespace", p.APIKey())
	assert.True(t, p.Available())
}

func TestLoadWhitespaceOnlyKeyDisablesProvider(t *testing.T) {
	t.Setenv("BLANK_KEY", "   \n\t")
	path := writeConfig(t, `
llm_providers:
  blank-provider:
    type: openai
    model: gpt-5
    api_key_env: BLANK_KEY
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.LLMProviders.Get("blank-provider")
	require.NoError(t, err)
	assert.Empty(t, p.APIKey())
	assert.False(t, p.Available())
	assert.NotContains(t, cfg.LLMProviders.AvailableNames(), "blank-provider")
}

func TestLoadRejectsUnknownMCPServerReference(t *testing.T) {
	path := writeConfig(t, `
agents:
  BrokenAgent:
    mcp_servers: ["no-such-server"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMCPServerNotFound)
	assert.Contains(t, err.Error(), "no-such-server")
}

func TestLoadRejectsUnknownAgentInChain(t *testing.T) {
	path := writeConfig(t, `
agent_chains:
  broken-chain:
    alert_types: ["broken"]
    stages:
      - name: "stage1"
        agents:
          - name: "NonexistentAgent"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Contains(t, err.Error(), "NonexistentAgent")
}

func TestLoadRejectsDuplicateAlertType(t *testing.T) {
	path := writeConfig(t, `
agent_chains:
  another-kubernetes-chain:
    alert_types: ["kubernetes"]
    stages:
      - name: "stage1"
        agent: "KubernetesAgent"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already mapped to chain")
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeConfig(t, `
agnets:
  Typo: {}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
	assert.Contains(t, err.Error(), "agnets")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "agents:\n  Broken: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadExpandsEnvTemplates(t *testing.T) {
	t.Setenv("CLUSTER_URL", "https://cluster.example.com")
	path := writeConfig(t, `
mcp_servers:
  remote-server:
    transport:
      type: http
      url: "{{.CLUSTER_URL}}/mcp"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	server, err := cfg.MCPServers.Get("remote-server")
	require.NoError(t, err)
	assert.Equal(t, "https://cluster.example.com/mcp", server.Transport.URL)
}

func TestLoadDefaultsMerge(t *testing.T) {
	path := writeConfig(t, `
defaults:
  max_iterations: 12
  iteration_strategy: native-thinking
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Defaults.MaxIterations)
	assert.Equal(t, IterationStrategyNativeThinking, cfg.Defaults.IterationStrategy)
	// Unset knobs keep their built-in values
	assert.Equal(t, "google-default", cfg.Defaults.LLMProvider)
}

func TestSystemWarnings(t *testing.T) {
	t.Setenv("HISTORY_ENABLED", "false")
	cfg, err := Load("")
	require.NoError(t, err)

	warnings := cfg.SystemWarnings()
	require.NotEmpty(t, warnings)
	found := false
	for _, w := range warnings {
		if w == "history capture is disabled; sessions will not be persisted" {
			found = true
		}
	}
	assert.True(t, found)
}
