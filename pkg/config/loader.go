package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the top-level YAML document shape.
type fileConfig struct {
	Defaults     Defaults                      `yaml:"defaults"`
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
	Agents       map[string]*AgentConfig       `yaml:"agents"`
	MCPServers   map[string]*MCPServerConfig   `yaml:"mcp_servers"`
	AgentChains  map[string]*ChainConfig       `yaml:"agent_chains"`
}

var fileKnownKeys = []string{"defaults", "llm_providers", "agents", "mcp_servers", "agent_chains"}

func (f *fileConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := checkUnknownKeys(value, "config", fileKnownKeys); err != nil {
		return err
	}
	type raw fileConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*f = fileConfig(r)
	return nil
}

// Load reads the YAML config at path, expands {{.VAR}} references from the
// environment, merges it with the built-in definitions, and validates the
// result. A missing file is not an error: the built-ins alone form a
// working configuration.
func Load(path string) (*Config, error) {
	settings, err := LoadSettings()
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	var file fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("No config file found, using built-in configuration", "path", path)
		case err != nil:
			return nil, NewLoadError(path, err)
		default:
			if err := yaml.Unmarshal(ExpandEnv(data), &file); err != nil {
				return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
			}
		}
	}

	defaults := NewDefaults()
	defaults.Merge(file.Defaults)
	if err := defaults.Validate(); err != nil {
		return nil, NewLoadError(path, err)
	}

	providers, err := NewLLMProviderRegistry(builtinLLMProviders(), file.LLMProviders)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	agents, err := NewAgentRegistry(builtinAgents(), file.Agents)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	mcpServers, err := NewMCPServerRegistry(builtinMCPServers(), file.MCPServers)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	chains, err := NewChainRegistry(builtinChains(), file.AgentChains)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	cfg := &Config{
		Settings:     settings,
		Defaults:     defaults,
		LLMProviders: providers,
		Agents:       agents,
		MCPServers:   mcpServers,
		Chains:       chains,
	}
	if err := validateReferences(cfg); err != nil {
		return nil, NewLoadError(path, err)
	}

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"chains", stats.Chains,
		"llm_providers", stats.LLMProviders,
		"available_llm_providers", stats.AvailableLLMProviders)
	return cfg, nil
}
