// Package config loads and validates the service configuration: process
// settings from the environment and the agent/chain/MCP topology from a
// single YAML file merged over compiled-in built-ins.
package config

// Config is the fully merged, validated configuration.
type Config struct {
	Settings     *Settings
	Defaults     Defaults
	LLMProviders *LLMProviderRegistry
	Agents       *AgentRegistry
	MCPServers   *MCPServerRegistry
	Chains       *ChainRegistry
}

// Stats summarizes registry sizes for startup logging and the health API.
type Stats struct {
	Agents                int      `json:"agents"`
	MCPServers            int      `json:"mcp_servers"`
	Chains                int      `json:"chains"`
	LLMProviders          int      `json:"llm_providers"`
	AvailableLLMProviders []string `json:"available_llm_providers"`
	AlertTypes            []string `json:"alert_types"`
}

// Stats returns registry sizes and the available provider set.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:                c.Agents.Len(),
		MCPServers:            c.MCPServers.Len(),
		Chains:                c.Chains.Len(),
		LLMProviders:          c.LLMProviders.Len(),
		AvailableLLMProviders: c.LLMProviders.AvailableNames(),
		AlertTypes:            c.Chains.AlertTypes(),
	}
}

// SystemWarnings reports degraded-but-running conditions surfaced to
// operators through the health endpoint.
func (c *Config) SystemWarnings() []string {
	var warnings []string
	if len(c.LLMProviders.AvailableNames()) == 0 {
		warnings = append(warnings, "no LLM provider has an API key configured; sessions will fail at the first LLM call")
	}
	if !c.Settings.HistoryEnabled {
		warnings = append(warnings, "history capture is disabled; sessions will not be persisted")
	}
	return warnings
}

// DefaultProvider returns the configured default LLM provider.
func (c *Config) DefaultProvider() (*LLMProviderConfig, error) {
	return c.LLMProviders.Get(c.Defaults.LLMProvider)
}
