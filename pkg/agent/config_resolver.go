package agent

import (
	"fmt"
	"time"

	"github.com/tarsy-bot/tarsy/pkg/config"
)

// DefaultIterationTimeout is the fallback per-LLM-call timeout used when no
// process settings are available. Each LLM call gets its own
// context.WithTimeout derived from the parent session context, so a single
// stuck call never consumes the entire session budget.
const DefaultIterationTimeout = 120 * time.Second

// DefaultSynthesisAgent is used when a parallel stage configures synthesis
// without naming an agent.
const DefaultSynthesisAgent = "SynthesisAgent"

// ResolveBackend maps an iteration strategy to its LLM service backend.
// Native thinking uses the Google SDK directly; everything else goes
// through LangChain.
func ResolveBackend(strategy config.IterationStrategy) string {
	if strategy == config.IterationStrategyNativeThinking {
		return BackendGoogleNative
	}
	return BackendLangChain
}

// ResolveAgentConfig builds the final agent configuration by applying the
// hierarchy: defaults → agent definition → stage → stage-agent. Each knob
// resolves independently; a level overrides only the knobs it sets.
func ResolveAgentConfig(
	cfg *config.Config,
	stage config.StageConfig,
	stageAgent config.StageAgentConfig,
) (*ResolvedAgentConfig, error) {
	defaults := cfg.Defaults

	agentDef, err := cfg.Agents.Get(stageAgent.Name)
	if err != nil {
		return nil, fmt.Errorf("agent %q not found: %w", stageAgent.Name, err)
	}

	strategy := defaults.IterationStrategy
	if agentDef.IterationStrategy != "" {
		strategy = agentDef.IterationStrategy
	}
	if stage.IterationStrategy != "" {
		strategy = stage.IterationStrategy
	}
	if stageAgent.IterationStrategy != "" {
		strategy = stageAgent.IterationStrategy
	}

	providerName := defaults.LLMProvider
	if agentDef.LLMProvider != "" {
		providerName = agentDef.LLMProvider
	}
	if stage.LLMProvider != "" {
		providerName = stage.LLMProvider
	}
	if stageAgent.LLMProvider != "" {
		providerName = stageAgent.LLMProvider
	}
	provider, err := lookupAvailableProvider(cfg, providerName)
	if err != nil {
		return nil, err
	}

	maxIter := config.DefaultMaxIterations
	if defaults.MaxIterations > 0 {
		maxIter = defaults.MaxIterations
	}
	if agentDef.MaxIterations > 0 {
		maxIter = agentDef.MaxIterations
	}
	if stage.MaxIterations > 0 {
		maxIter = stage.MaxIterations
	}
	if stageAgent.MaxIterations > 0 {
		maxIter = stageAgent.MaxIterations
	}

	// A stage-level server list replaces the agent definition's.
	mcpServers := agentDef.MCPServers
	if len(stage.MCPServers) > 0 {
		mcpServers = stage.MCPServers
	}

	return &ResolvedAgentConfig{
		AgentName:          stageAgent.Name,
		IterationStrategy:  strategy,
		Backend:            ResolveBackend(strategy),
		LLMProvider:        provider,
		LLMProviderName:    providerName,
		MaxIterations:      maxIter,
		IterationTimeout:   iterationTimeout(cfg),
		ForceConclusion:    stage.ForceConclusion,
		MCPServers:         mcpServers,
		CustomInstructions: agentDef.CustomInstructions,
	}, nil
}

// ResolveSynthesisConfig builds the agent configuration for the synthesis
// step of a parallel stage. Hierarchy: defaults → agent definition →
// synthesis block. Synthesis is a single tool-less call, so no MCP servers
// are resolved and forced conclusion does not apply.
func ResolveSynthesisConfig(cfg *config.Config, stage config.StageConfig) (*ResolvedAgentConfig, error) {
	syn := stage.Synthesis
	if syn == nil {
		return nil, fmt.Errorf("stage %q has no synthesis configuration", stage.Name)
	}

	defaults := cfg.Defaults

	agentName := DefaultSynthesisAgent
	if syn.Agent != "" {
		agentName = syn.Agent
	}
	agentDef, err := cfg.Agents.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("synthesis agent %q not found: %w", agentName, err)
	}

	strategy := defaults.IterationStrategy
	if agentDef.IterationStrategy != "" {
		strategy = agentDef.IterationStrategy
	}
	if syn.IterationStrategy != "" {
		strategy = syn.IterationStrategy
	}

	providerName := defaults.LLMProvider
	if agentDef.LLMProvider != "" {
		providerName = agentDef.LLMProvider
	}
	if syn.LLMProvider != "" {
		providerName = syn.LLMProvider
	}
	provider, err := lookupAvailableProvider(cfg, providerName)
	if err != nil {
		return nil, err
	}

	maxIter := config.DefaultMaxIterations
	if defaults.MaxIterations > 0 {
		maxIter = defaults.MaxIterations
	}
	if agentDef.MaxIterations > 0 {
		maxIter = agentDef.MaxIterations
	}
	if syn.MaxIterations > 0 {
		maxIter = syn.MaxIterations
	}

	return &ResolvedAgentConfig{
		AgentName:          agentName,
		IterationStrategy:  strategy,
		Backend:            ResolveBackend(strategy),
		LLMProvider:        provider,
		LLMProviderName:    providerName,
		MaxIterations:      maxIter,
		IterationTimeout:   iterationTimeout(cfg),
		MCPServers:         nil,
		CustomInstructions: agentDef.CustomInstructions,
	}, nil
}

// lookupAvailableProvider fetches a provider and rejects ones whose API key
// did not resolve at startup.
func lookupAvailableProvider(cfg *config.Config, name string) (*config.LLMProviderConfig, error) {
	provider, err := cfg.LLMProviders.Get(name)
	if err != nil {
		return nil, fmt.Errorf("LLM provider %q not found: %w", name, err)
	}
	if !provider.Available() {
		return nil, fmt.Errorf("%s client not available", name)
	}
	return provider, nil
}

func iterationTimeout(cfg *config.Config) time.Duration {
	if cfg.Settings != nil && cfg.Settings.LLMIterationTimeout > 0 {
		return cfg.Settings.LLMIterationTimeout
	}
	return DefaultIterationTimeout
}
