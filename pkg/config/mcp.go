package config

import (
	"fmt"
	"sync"
)

// TransportConfig selects and parameterizes the MCP server transport.
// Stdio servers are spawned as subprocesses; http servers are reached
// over streamable HTTP.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// stdio
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// http / sse
	URL            string            `yaml:"url,omitempty"`
	BearerTokenEnv string            `yaml:"bearer_token_env,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	VerifySSL      *bool             `yaml:"verify_ssl,omitempty"`
	TimeoutSeconds int               `yaml:"timeout,omitempty"`
}

// Validate checks the transport section against its declared type.
func (t *TransportConfig) Validate(serverName string) error {
	if !t.Type.IsValid() {
		return NewValidationError("mcp_server", serverName, "transport.type",
			fmt.Errorf("%w: %q", ErrInvalidValue, t.Type))
	}
	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return NewValidationError("mcp_server", serverName, "transport.command",
				fmt.Errorf("%w: command is required for stdio transport", ErrInvalidValue))
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return NewValidationError("mcp_server", serverName, "transport.url",
				fmt.Errorf("%w: url is required for %s transport", ErrInvalidValue, t.Type))
		}
	}
	return nil
}

// MaskingPattern is a user-supplied regex replaced before tool results are
// stored or forwarded.
type MaskingPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// MaskingConfig enables response masking for one MCP server. Patterns
// reference built-in names, pattern groups expand to sets of built-ins,
// and custom patterns supply raw regexes.
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MCPServerConfig describes one MCP server an agent can call tools on.
type MCPServerConfig struct {
	Name         string          `yaml:"-"`
	Enabled      *bool           `yaml:"enabled,omitempty"`
	Transport    TransportConfig `yaml:"transport"`
	Instructions string          `yaml:"instructions,omitempty"`
	DataMasking  *MaskingConfig  `yaml:"data_masking,omitempty"`

	// SummarizeResults enables LLM summarization of oversized tool results
	// instead of hard truncation.
	SummarizeResults *bool `yaml:"summarize_tool_results,omitempty"`
}

// IsEnabled reports whether the server should be connected. Servers are
// enabled unless explicitly disabled.
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks the server entry for structural problems.
func (c *MCPServerConfig) Validate() error {
	if err := c.Transport.Validate(c.Name); err != nil {
		return err
	}
	if c.DataMasking != nil {
		for i, p := range c.DataMasking.CustomPatterns {
			if p.Name == "" {
				return NewValidationError("mcp_server", c.Name, "data_masking.custom_patterns",
					fmt.Errorf("%w: custom_patterns[%d] has no name", ErrInvalidValue, i))
			}
			if p.Pattern == "" {
				return NewValidationError("mcp_server", c.Name, "data_masking.custom_patterns",
					fmt.Errorf("%w: custom pattern %q has no pattern", ErrInvalidValue, p.Name))
			}
		}
	}
	return nil
}

// MCPServerRegistry holds built-in and user-defined MCP server configs.
type MCPServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*MCPServerConfig
}

// NewMCPServerRegistry merges built-in servers with user-defined ones.
// A user server id colliding with a built-in is rejected rather than
// overriding it.
func NewMCPServerRegistry(builtin, user map[string]*MCPServerConfig) (*MCPServerRegistry, error) {
	servers := make(map[string]*MCPServerConfig, len(builtin)+len(user))
	for name, s := range builtin {
		cp := *s
		cp.Name = name
		servers[name] = &cp
	}
	for name, s := range user {
		if _, exists := servers[name]; exists {
			return nil, NewValidationError("mcp_server", name, "name",
				fmt.Errorf("%w: collides with built-in MCP server", ErrInvalidValue))
		}
		cp := *s
		cp.Name = name
		servers[name] = &cp
	}
	for _, s := range servers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &MCPServerRegistry{servers: servers}, nil
}

// Get returns the server config for name.
func (r *MCPServerRegistry) Get(name string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMCPServerNotFound, name)
	}
	return s, nil
}

// Has reports whether a server with the given name is registered.
func (r *MCPServerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.servers[name]
	return ok
}

// Names returns all registered server names.
func (r *MCPServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	return names
}

// All returns a copy of the registry's server map.
func (r *MCPServerRegistry) All() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	servers := make(map[string]*MCPServerConfig, len(r.servers))
	for name, s := range r.servers {
		servers[name] = s
	}
	return servers
}

// EnabledNames returns the names of servers that should be connected.
func (r *MCPServerRegistry) EnabledNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name, s := range r.servers {
		if s.IsEnabled() {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of registered servers.
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
