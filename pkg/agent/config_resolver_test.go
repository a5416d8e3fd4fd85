package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/config"
)

// newResolverConfig builds a minimal Config with two available providers
// and an agent wired to the google provider via defaults.
func newResolverConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "test-google-key")
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	providers, err := config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
		"google-default": {
			Type:      config.LLMProviderTypeGoogle,
			Model:     "gemini-2.5-pro",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
		"openai-default": {
			Type:      config.LLMProviderTypeOpenAI,
			Model:     "gpt-5",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		"keyless": {
			Type:      config.LLMProviderTypeXAI,
			Model:     "grok-4",
			APIKeyEnv: "MISSING_XAI_KEY",
		},
	}, nil)
	require.NoError(t, err)

	agents, err := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"KubernetesAgent": {
			IterationStrategy:  config.IterationStrategyNativeThinking,
			MCPServers:         []string{"kubernetes-server"},
			CustomInstructions: "You are a K8s agent",
		},
		"PlainAgent":     {},
		"SynthesisAgent": {CustomInstructions: "You synthesize."},
	}, nil)
	require.NoError(t, err)

	return &config.Config{
		Defaults: config.Defaults{
			LLMProvider:       "google-default",
			MaxIterations:     25,
			IterationStrategy: config.IterationStrategyReact,
		},
		LLMProviders: providers,
		Agents:       agents,
	}
}

func TestResolveBackend(t *testing.T) {
	assert.Equal(t, BackendGoogleNative, ResolveBackend(config.IterationStrategyNativeThinking))
	assert.Equal(t, BackendLangChain, ResolveBackend(config.IterationStrategyReact))
	assert.Equal(t, BackendLangChain, ResolveBackend(""))
}

func TestResolveAgentConfig(t *testing.T) {
	cfg := newResolverConfig(t)

	t.Run("agent definition over defaults", func(t *testing.T) {
		resolved, err := ResolveAgentConfig(cfg, config.StageConfig{}, config.StageAgentConfig{Name: "KubernetesAgent"})
		require.NoError(t, err)

		assert.Equal(t, "KubernetesAgent", resolved.AgentName)
		// The agent definition's strategy wins over the react default,
		// which also selects the native backend.
		assert.Equal(t, config.IterationStrategyNativeThinking, resolved.IterationStrategy)
		assert.Equal(t, BackendGoogleNative, resolved.Backend)
		assert.Equal(t, "google-default", resolved.LLMProviderName)
		assert.Equal(t, "gemini-2.5-pro", resolved.LLMProvider.Model)
		assert.Equal(t, 25, resolved.MaxIterations)
		assert.Equal(t, []string{"kubernetes-server"}, resolved.MCPServers)
		assert.Equal(t, "You are a K8s agent", resolved.CustomInstructions)
	})

	t.Run("bare agent falls back to defaults", func(t *testing.T) {
		resolved, err := ResolveAgentConfig(cfg, config.StageConfig{}, config.StageAgentConfig{Name: "PlainAgent"})
		require.NoError(t, err)

		assert.Equal(t, config.IterationStrategyReact, resolved.IterationStrategy)
		assert.Equal(t, BackendLangChain, resolved.Backend)
		assert.Equal(t, 25, resolved.MaxIterations)
		assert.Empty(t, resolved.MCPServers)
	})

	t.Run("stage overrides agent definition", func(t *testing.T) {
		stage := config.StageConfig{
			IterationStrategy: config.IterationStrategyReact,
			LLMProvider:       "openai-default",
			MaxIterations:     10,
			MCPServers:        []string{"stage-server"},
			ForceConclusion:   true,
		}
		resolved, err := ResolveAgentConfig(cfg, stage, config.StageAgentConfig{Name: "KubernetesAgent"})
		require.NoError(t, err)

		assert.Equal(t, config.IterationStrategyReact, resolved.IterationStrategy)
		assert.Equal(t, BackendLangChain, resolved.Backend)
		assert.Equal(t, "openai-default", resolved.LLMProviderName)
		assert.Equal(t, 10, resolved.MaxIterations)
		assert.Equal(t, []string{"stage-server"}, resolved.MCPServers)
		assert.True(t, resolved.ForceConclusion)
	})

	t.Run("stage-agent entry overrides stage", func(t *testing.T) {
		stage := config.StageConfig{
			IterationStrategy: config.IterationStrategyNativeThinking,
			LLMProvider:       "google-default",
			MaxIterations:     10,
		}
		stageAgent := config.StageAgentConfig{
			Name:              "KubernetesAgent",
			IterationStrategy: config.IterationStrategyReact,
			LLMProvider:       "openai-default",
			MaxIterations:     5,
		}
		resolved, err := ResolveAgentConfig(cfg, stage, stageAgent)
		require.NoError(t, err)

		assert.Equal(t, config.IterationStrategyReact, resolved.IterationStrategy)
		assert.Equal(t, "openai-default", resolved.LLMProviderName)
		assert.Equal(t, 5, resolved.MaxIterations)
	})

	t.Run("empty stage server list keeps agent servers", func(t *testing.T) {
		stage := config.StageConfig{MCPServers: []string{}}
		resolved, err := ResolveAgentConfig(cfg, stage, config.StageAgentConfig{Name: "KubernetesAgent"})
		require.NoError(t, err)
		assert.Equal(t, []string{"kubernetes-server"}, resolved.MCPServers)
	})

	t.Run("iteration timeout from settings", func(t *testing.T) {
		resolved, err := ResolveAgentConfig(cfg, config.StageConfig{}, config.StageAgentConfig{Name: "PlainAgent"})
		require.NoError(t, err)
		assert.Equal(t, DefaultIterationTimeout, resolved.IterationTimeout)

		withSettings := *cfg
		withSettings.Settings = &config.Settings{LLMIterationTimeout: 45 * time.Second}
		resolved, err = ResolveAgentConfig(&withSettings, config.StageConfig{}, config.StageAgentConfig{Name: "PlainAgent"})
		require.NoError(t, err)
		assert.Equal(t, 45*time.Second, resolved.IterationTimeout)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := ResolveAgentConfig(cfg, config.StageConfig{}, config.StageAgentConfig{Name: "UnknownAgent"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("unknown provider", func(t *testing.T) {
		stageAgent := config.StageAgentConfig{Name: "PlainAgent", LLMProvider: "nonexistent-provider"}
		_, err := ResolveAgentConfig(cfg, config.StageConfig{}, stageAgent)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("provider without API key", func(t *testing.T) {
		stageAgent := config.StageAgentConfig{Name: "PlainAgent", LLMProvider: "keyless"}
		_, err := ResolveAgentConfig(cfg, config.StageConfig{}, stageAgent)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not available")
	})
}

func TestResolveSynthesisConfig(t *testing.T) {
	cfg := newResolverConfig(t)

	t.Run("defaults to SynthesisAgent", func(t *testing.T) {
		stage := config.StageConfig{Name: "parallel", Synthesis: &config.SynthesisConfig{}}
		resolved, err := ResolveSynthesisConfig(cfg, stage)
		require.NoError(t, err)

		assert.Equal(t, DefaultSynthesisAgent, resolved.AgentName)
		assert.Equal(t, "You synthesize.", resolved.CustomInstructions)
		assert.Equal(t, config.IterationStrategyReact, resolved.IterationStrategy)
		assert.Equal(t, "google-default", resolved.LLMProviderName)
		assert.Equal(t, 25, resolved.MaxIterations)
		// Synthesis is a single tool-less call.
		assert.Nil(t, resolved.MCPServers)
		assert.False(t, resolved.ForceConclusion)
	})

	t.Run("synthesis block overrides", func(t *testing.T) {
		stage := config.StageConfig{
			Name: "parallel",
			Synthesis: &config.SynthesisConfig{
				Agent:             "KubernetesAgent",
				LLMProvider:       "openai-default",
				IterationStrategy: config.IterationStrategyReact,
				MaxIterations:     3,
			},
		}
		resolved, err := ResolveSynthesisConfig(cfg, stage)
		require.NoError(t, err)

		assert.Equal(t, "KubernetesAgent", resolved.AgentName)
		assert.Equal(t, "openai-default", resolved.LLMProviderName)
		// The synthesis block's strategy wins over the agent definition's.
		assert.Equal(t, config.IterationStrategyReact, resolved.IterationStrategy)
		assert.Equal(t, BackendLangChain, resolved.Backend)
		assert.Equal(t, 3, resolved.MaxIterations)
		assert.Nil(t, resolved.MCPServers)
	})

	t.Run("missing synthesis block", func(t *testing.T) {
		_, err := ResolveSynthesisConfig(cfg, config.StageConfig{Name: "plain"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no synthesis configuration")
	})

	t.Run("unknown synthesis agent", func(t *testing.T) {
		stage := config.StageConfig{
			Name:      "parallel",
			Synthesis: &config.SynthesisConfig{Agent: "NoSuchAgent"},
		}
		_, err := ResolveSynthesisConfig(cfg, stage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}
