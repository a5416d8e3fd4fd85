package config

import (
	"fmt"
	"sync"
)

// AgentConfig describes an agent: which MCP servers it may call, how it
// iterates, and which LLM provider backs it. Built-in agents are compiled
// in; user agents come from YAML and must not reuse built-in names.
type AgentConfig struct {
	Name               string            `yaml:"-"`
	Description        string            `yaml:"description,omitempty"`
	IterationStrategy  IterationStrategy `yaml:"iteration_strategy,omitempty"`
	LLMProvider        string            `yaml:"llm_provider,omitempty"`
	MaxIterations      int               `yaml:"max_iterations,omitempty"`
	MCPServers         []string          `yaml:"mcp_servers,omitempty"`
	CustomInstructions string            `yaml:"custom_instructions,omitempty"`
}

// Validate checks the agent entry for structural problems. Cross-entry
// checks (MCP server references, provider references) run in the validator
// once all registries exist.
func (c *AgentConfig) Validate() error {
	if c.IterationStrategy != "" && !c.IterationStrategy.IsValid() {
		return NewValidationError("agent", c.Name, "iteration_strategy",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.IterationStrategy))
	}
	if c.MaxIterations < 0 {
		return NewValidationError("agent", c.Name, "max_iterations",
			fmt.Errorf("%w: must not be negative, got %d", ErrInvalidValue, c.MaxIterations))
	}
	return nil
}

// AgentRegistry holds built-in and user-defined agents.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// NewAgentRegistry merges built-in agents with user-defined ones. A user
// agent whose name collides with a built-in is rejected rather than
// overriding it.
func NewAgentRegistry(builtin, user map[string]*AgentConfig) (*AgentRegistry, error) {
	agents := make(map[string]*AgentConfig, len(builtin)+len(user))
	for name, a := range builtin {
		cp := *a
		cp.Name = name
		agents[name] = &cp
	}
	for name, a := range user {
		if _, exists := agents[name]; exists {
			return nil, NewValidationError("agent", name, "name",
				fmt.Errorf("%w: collides with built-in agent", ErrInvalidValue))
		}
		cp := *a
		cp.Name = name
		agents[name] = &cp
	}
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	return &AgentRegistry{agents: agents}, nil
}

// Get returns the agent for name.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return a, nil
}

// Has reports whether an agent with the given name is registered.
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names returns all registered agent names.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
