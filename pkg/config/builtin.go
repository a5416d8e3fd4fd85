package config

// Built-in definitions compiled into the binary. User YAML may add to
// these but never replace an agent, MCP server, or chain by the same name;
// LLM providers are the one namespace where user entries override.

func builtinLLMProviders() map[string]*LLMProviderConfig {
	return map[string]*LLMProviderConfig{
		"openai-default": {
			Type:                LLMProviderTypeOpenAI,
			Model:               "gpt-5",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxToolResultTokens: 250000,
		},
		"google-default": {
			Type:                LLMProviderTypeGoogle,
			Model:               "gemini-2.5-pro",
			APIKeyEnv:           "GOOGLE_API_KEY",
			MaxToolResultTokens: 950000,
		},
		"anthropic-default": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "claude-sonnet-4-5",
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			MaxToolResultTokens: 150000,
		},
		"xai-default": {
			Type:                LLMProviderTypeXAI,
			Model:               "grok-4",
			APIKeyEnv:           "XAI_API_KEY",
			MaxToolResultTokens: 200000,
		},
		"vertexai-default": {
			Type:                LLMProviderTypeVertexAI,
			Model:               "gemini-2.5-pro",
			APIKeyEnv:           "VERTEXAI_API_KEY",
			MaxToolResultTokens: 150000,
		},
	}
}

func builtinAgents() map[string]*AgentConfig {
	return map[string]*AgentConfig{
		"KubernetesAgent": {
			Description:       "Investigates Kubernetes alerts using cluster tooling",
			IterationStrategy: IterationStrategyReact,
			MCPServers:        []string{"kubernetes-server"},
		},
		"SynthesisAgent": {
			Description:       "Combines parallel investigation results into a single analysis",
			IterationStrategy: IterationStrategyNativeThinking,
			MCPServers:        nil,
		},
	}
}

func builtinMCPServers() map[string]*MCPServerConfig {
	return map[string]*MCPServerConfig{
		"kubernetes-server": {
			Transport: TransportConfig{
				Type:    TransportTypeStdio,
				Command: "npx",
				Args:    []string{"-y", "kubernetes-mcp-server@latest"},
			},
			Instructions: "For Kubernetes operations: be precise with resource names and namespaces, prefer read operations, and never modify cluster state.",
			DataMasking: &MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"kubernetes"},
			},
		},
	}
}

func builtinChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		"kubernetes-agent-chain": {
			AlertTypes:  []string{"kubernetes", "NamespaceTerminating"},
			Description: "Single-stage Kubernetes alert investigation",
			Stages: []StageConfig{
				{
					Name:  "investigation",
					Agent: "KubernetesAgent",
				},
			},
		},
	}
}
