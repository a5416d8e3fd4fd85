package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// LLMProviderConfig describes one LLM provider entry.
//
// API keys are never stored in YAML. Each provider names the environment
// variable carrying its key; the key is resolved once at load time with
// surrounding whitespace stripped. A provider with an empty resolved key
// stays registered but reports unavailable.
type LLMProviderConfig struct {
	Name                string          `yaml:"-"`
	Type                LLMProviderType `yaml:"type"`
	Model               string          `yaml:"model"`
	APIKeyEnv           string          `yaml:"api_key_env"`
	BaseURL             string          `yaml:"base_url,omitempty"`
	MaxToolResultTokens int             `yaml:"max_tool_result_tokens,omitempty"`

	apiKey string
}

// ResolveAPIKey reads the provider's key from the environment and strips
// surrounding whitespace. Pasted keys routinely pick up a trailing newline;
// a whitespace-only value resolves to empty.
func (c *LLMProviderConfig) ResolveAPIKey() {
	if c.APIKeyEnv == "" {
		c.apiKey = ""
		return
	}
	c.apiKey = strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// APIKey returns the resolved key. Empty means the provider is unavailable.
func (c *LLMProviderConfig) APIKey() string {
	return c.apiKey
}

// Available reports whether the provider resolved a non-empty API key.
func (c *LLMProviderConfig) Available() bool {
	return c.apiKey != ""
}

// Validate checks the provider entry for structural problems.
func (c *LLMProviderConfig) Validate() error {
	if !c.Type.IsValid() {
		return NewValidationError("llm_provider", c.Name, "type",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.Type))
	}
	if c.Model == "" {
		return NewValidationError("llm_provider", c.Name, "model",
			fmt.Errorf("%w: model is required", ErrInvalidValue))
	}
	if c.MaxToolResultTokens < 0 {
		return NewValidationError("llm_provider", c.Name, "max_tool_result_tokens",
			fmt.Errorf("%w: must not be negative, got %d", ErrInvalidValue, c.MaxToolResultTokens))
	}
	return nil
}

// LLMProviderRegistry holds the merged built-in and user provider set.
type LLMProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]*LLMProviderConfig
}

// NewLLMProviderRegistry builds a registry from built-in providers,
// overlaid with user-supplied entries. Unlike agents and MCP servers,
// providers may be overridden by name: the user entry replaces the
// built-in wholesale.
func NewLLMProviderRegistry(builtin, user map[string]*LLMProviderConfig) (*LLMProviderRegistry, error) {
	providers := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name, p := range builtin {
		cp := *p
		cp.Name = name
		providers[name] = &cp
	}
	for name, p := range user {
		cp := *p
		cp.Name = name
		providers[name] = &cp
	}
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.ResolveAPIKey()
	}
	return &LLMProviderRegistry{providers: providers}, nil
}

// Get returns the provider for name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLLMProviderNotFound, name)
	}
	return p, nil
}

// Has reports whether a provider with the given name is registered.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns all registered provider names.
func (r *LLMProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// AvailableNames returns the names of providers with a resolved API key.
func (r *LLMProviderRegistry) AvailableNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name, p := range r.providers {
		if p.Available() {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of registered providers.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
