package config

import (
	"fmt"
)

// validateReferences walks every cross-registry reference after all
// registries are built. Name collisions are caught earlier, inside the
// registry constructors; this pass catches dangling references so a bad
// config fails at startup instead of mid-session.
func validateReferences(cfg *Config) error {
	for _, name := range cfg.Agents.Names() {
		agent, _ := cfg.Agents.Get(name)
		for _, server := range agent.MCPServers {
			if !cfg.MCPServers.Has(server) {
				return NewValidationError("agent", name, "mcp_servers",
					fmt.Errorf("%w: unknown MCP server %q", ErrMCPServerNotFound, server))
			}
		}
		if agent.LLMProvider != "" {
			if _, err := cfg.LLMProviders.Get(agent.LLMProvider); err != nil {
				return NewValidationError("agent", name, "llm_provider", err)
			}
		}
	}

	for _, id := range cfg.Chains.Names() {
		chain, _ := cfg.Chains.Get(id)
		for i := range chain.Stages {
			if err := validateStageReferences(cfg, id, &chain.Stages[i]); err != nil {
				return err
			}
		}
	}

	if cfg.Defaults.LLMProvider != "" {
		if _, err := cfg.LLMProviders.Get(cfg.Defaults.LLMProvider); err != nil {
			return NewValidationError("defaults", "", "llm_provider", err)
		}
	}
	return nil
}

func validateStageReferences(cfg *Config, chainID string, stage *StageConfig) error {
	if stage.Agent != "" && !cfg.Agents.Has(stage.Agent) {
		return NewValidationError("chain", chainID, stage.Name,
			fmt.Errorf("%w: %q", ErrAgentNotFound, stage.Agent))
	}
	for _, entry := range stage.Agents {
		if !cfg.Agents.Has(entry.Name) {
			return NewValidationError("chain", chainID, stage.Name,
				fmt.Errorf("%w: %q", ErrAgentNotFound, entry.Name))
		}
		if entry.LLMProvider != "" {
			if _, err := cfg.LLMProviders.Get(entry.LLMProvider); err != nil {
				return NewValidationError("chain", chainID, stage.Name, err)
			}
		}
	}
	if stage.LLMProvider != "" {
		if _, err := cfg.LLMProviders.Get(stage.LLMProvider); err != nil {
			return NewValidationError("chain", chainID, stage.Name, err)
		}
	}
	for _, server := range stage.MCPServers {
		if !cfg.MCPServers.Has(server) {
			return NewValidationError("chain", chainID, stage.Name,
				fmt.Errorf("%w: unknown MCP server %q", ErrMCPServerNotFound, server))
		}
	}
	if syn := stage.Synthesis; syn != nil {
		if syn.Agent != "" && !cfg.Agents.Has(syn.Agent) {
			return NewValidationError("chain", chainID, stage.Name,
				fmt.Errorf("%w: synthesis agent %q", ErrAgentNotFound, syn.Agent))
		}
		if syn.LLMProvider != "" {
			if _, err := cfg.LLMProviders.Get(syn.LLMProvider); err != nil {
				return NewValidationError("chain", chainID, stage.Name, err)
			}
		}
	}
	return nil
}
