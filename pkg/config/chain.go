package config

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// StageShape classifies how a stage fans out.
type StageShape int

const (
	// StageShapeSingle runs one agent.
	StageShapeSingle StageShape = iota
	// StageShapeMultiAgent runs a distinct agent per entry in agents.
	StageShapeMultiAgent
	// StageShapeReplica runs the same agent replicas times.
	StageShapeReplica
)

// StageAgentConfig is one entry in a multi-agent stage's agents list.
// YAML accepts either a bare agent name or a mapping with per-agent
// overrides for provider, strategy, and iteration budget.
type StageAgentConfig struct {
	Name              string            `yaml:"name"`
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	MaxIterations     int               `yaml:"max_iterations,omitempty"`
}

var stageAgentKnownKeys = []string{"name", "llm_provider", "iteration_strategy", "max_iterations"}

func (s *StageAgentConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		*s = StageAgentConfig{Name: name}
		return nil
	}
	if err := checkUnknownKeys(value, "agents entry", stageAgentKnownKeys); err != nil {
		return err
	}
	type raw StageAgentConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = StageAgentConfig(r)
	return nil
}

// SynthesisConfig describes the optional synthesis step that runs after a
// parallel stage's children finish, combining their outputs into a single
// stage result.
type SynthesisConfig struct {
	Agent             string            `yaml:"agent,omitempty"`
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	MaxIterations     int               `yaml:"max_iterations,omitempty"`
}

var synthesisKnownKeys = []string{"agent", "llm_provider", "iteration_strategy", "max_iterations"}

func (s *SynthesisConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := checkUnknownKeys(value, "synthesis", synthesisKnownKeys); err != nil {
		return err
	}
	type raw SynthesisConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = SynthesisConfig(r)
	return nil
}

// StageConfig describes one stage of a chain. Exactly one execution shape
// must be configured: a single agent, an agents list, or an agent with
// replicas greater than one.
type StageConfig struct {
	Name            string             `yaml:"name"`
	Agent           string             `yaml:"agent,omitempty"`
	Agents          []StageAgentConfig `yaml:"agents,omitempty"`
	Replicas        int                `yaml:"replicas,omitempty"`
	SuccessPolicy   SuccessPolicy      `yaml:"success_policy,omitempty"`
	LLMProvider     string             `yaml:"llm_provider,omitempty"`
	MaxIterations   int                `yaml:"max_iterations,omitempty"`
	ForceConclusion bool               `yaml:"force_conclusion_at_max_iterations,omitempty"`
	Synthesis       *SynthesisConfig   `yaml:"synthesis,omitempty"`

	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	MCPServers        []string          `yaml:"mcp_servers,omitempty"`
}

var stageKnownKeys = []string{
	"name", "agent", "agents", "replicas", "success_policy",
	"llm_provider", "max_iterations", "force_conclusion_at_max_iterations",
	"synthesis", "iteration_strategy", "mcp_servers",
}

func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := checkUnknownKeys(value, "stage", stageKnownKeys); err != nil {
		return err
	}
	type raw StageConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = StageConfig(r)
	return nil
}

// Shape returns the stage's execution shape. Call only after Validate.
func (s *StageConfig) Shape() StageShape {
	switch {
	case len(s.Agents) > 0:
		return StageShapeMultiAgent
	case s.Replicas > 1:
		return StageShapeReplica
	default:
		return StageShapeSingle
	}
}

// IsParallel reports whether the stage fans out to more than one execution.
func (s *StageConfig) IsParallel() bool {
	return s.Shape() != StageShapeSingle
}

// Validate checks the stage's shape and field values.
func (s *StageConfig) Validate(chainID string) error {
	if s.Name == "" {
		return NewValidationError("chain", chainID, "stages",
			fmt.Errorf("%w: stage name is required", ErrInvalidValue))
	}
	hasAgent := s.Agent != ""
	hasAgents := len(s.Agents) > 0
	switch {
	case hasAgent && hasAgents:
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: agent and agents are mutually exclusive", ErrInvalidValue))
	case !hasAgent && !hasAgents:
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: one of agent or agents is required", ErrInvalidValue))
	}
	if s.Replicas < 0 {
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: replicas must not be negative, got %d", ErrInvalidValue, s.Replicas))
	}
	if s.Replicas > 1 && hasAgents {
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: replicas applies only to a single agent", ErrInvalidValue))
	}
	if s.SuccessPolicy != "" {
		if !s.SuccessPolicy.IsValid() {
			return NewValidationError("chain", chainID, s.Name,
				fmt.Errorf("%w: success_policy %q", ErrInvalidValue, s.SuccessPolicy))
		}
		if !s.IsParallel() {
			return NewValidationError("chain", chainID, s.Name,
				fmt.Errorf("%w: success_policy applies only to parallel stages", ErrInvalidValue))
		}
	}
	if s.Synthesis != nil && !s.IsParallel() {
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: synthesis applies only to parallel stages", ErrInvalidValue))
	}
	if s.IterationStrategy != "" && !s.IterationStrategy.IsValid() {
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: iteration_strategy %q", ErrInvalidValue, s.IterationStrategy))
	}
	if s.MaxIterations < 0 {
		return NewValidationError("chain", chainID, s.Name,
			fmt.Errorf("%w: max_iterations must not be negative, got %d", ErrInvalidValue, s.MaxIterations))
	}
	for i, a := range s.Agents {
		if a.Name == "" {
			return NewValidationError("chain", chainID, s.Name,
				fmt.Errorf("%w: agents[%d] has no name", ErrInvalidValue, i))
		}
		if a.IterationStrategy != "" && !a.IterationStrategy.IsValid() {
			return NewValidationError("chain", chainID, s.Name,
				fmt.Errorf("%w: agents[%d] iteration_strategy %q", ErrInvalidValue, i, a.IterationStrategy))
		}
	}
	return nil
}

// EffectiveReplicas returns the child count for a replicated stage.
func (s *StageConfig) EffectiveReplicas() int {
	if s.Replicas < 1 {
		return 1
	}
	return s.Replicas
}

// EffectiveSuccessPolicy returns the stage's policy, defaulting to all.
func (s *StageConfig) EffectiveSuccessPolicy() SuccessPolicy {
	if s.SuccessPolicy == "" {
		return SuccessPolicyAll
	}
	return s.SuccessPolicy
}

// ChainConfig describes an ordered sequence of stages triggered by one or
// more alert types.
type ChainConfig struct {
	ChainID     string        `yaml:"-"`
	AlertTypes  []string      `yaml:"alert_types,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Stages      []StageConfig `yaml:"stages"`
}

var chainKnownKeys = []string{"alert_types", "description", "stages"}

func (c *ChainConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := checkUnknownKeys(value, "chain", chainKnownKeys); err != nil {
		return err
	}
	type raw ChainConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*c = ChainConfig(r)
	return nil
}

// Validate checks the chain and all its stages.
func (c *ChainConfig) Validate() error {
	if len(c.Stages) == 0 {
		return NewValidationError("chain", c.ChainID, "stages",
			fmt.Errorf("%w: at least one stage is required", ErrInvalidValue))
	}
	seen := make(map[string]bool, len(c.Stages))
	for i := range c.Stages {
		stage := &c.Stages[i]
		if err := stage.Validate(c.ChainID); err != nil {
			return err
		}
		if seen[stage.Name] {
			return NewValidationError("chain", c.ChainID, stage.Name,
				fmt.Errorf("%w: duplicate stage name", ErrInvalidValue))
		}
		seen[stage.Name] = true
	}
	return nil
}

// ChainRegistry maps chain ids and alert types to chain definitions.
type ChainRegistry struct {
	mu          sync.RWMutex
	chains      map[string]*ChainConfig
	byAlertType map[string]string
}

// NewChainRegistry merges built-in chains with user-defined ones. A user
// chain id colliding with a built-in is rejected. Each alert type may map
// to at most one chain.
func NewChainRegistry(builtin, user map[string]*ChainConfig) (*ChainRegistry, error) {
	chains := make(map[string]*ChainConfig, len(builtin)+len(user))
	for id, c := range builtin {
		cp := *c
		cp.ChainID = id
		chains[id] = &cp
	}
	for id, c := range user {
		if _, exists := chains[id]; exists {
			return nil, NewValidationError("chain", id, "chain_id",
				fmt.Errorf("%w: collides with built-in chain", ErrInvalidValue))
		}
		cp := *c
		cp.ChainID = id
		chains[id] = &cp
	}

	byAlertType := make(map[string]string)
	for id, c := range chains {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		for _, at := range c.AlertTypes {
			if prev, dup := byAlertType[at]; dup && prev != id {
				return nil, NewValidationError("chain", id, "alert_types",
					fmt.Errorf("%w: alert type %q already mapped to chain %q", ErrInvalidValue, at, prev))
			}
			byAlertType[at] = id
		}
	}
	return &ChainRegistry{chains: chains, byAlertType: byAlertType}, nil
}

// Get returns the chain with the given id.
func (r *ChainRegistry) Get(chainID string) (*ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChainNotFound, chainID)
	}
	return c, nil
}

// Has reports whether a chain with the given id is registered.
func (r *ChainRegistry) Has(chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chains[chainID]
	return ok
}

// GetByAlertType returns the chain registered for the given alert type.
func (r *ChainRegistry) GetByAlertType(alertType string) (*ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAlertType[alertType]
	if !ok {
		return nil, fmt.Errorf("%w: no chain for alert type %q", ErrChainNotFound, alertType)
	}
	return r.chains[id], nil
}

// AlertTypes returns every alert type with a registered chain.
func (r *ChainRegistry) AlertTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byAlertType))
	for at := range r.byAlertType {
		types = append(types, at)
	}
	return types
}

// Names returns all registered chain ids.
func (r *ChainRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered chains.
func (r *ChainRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// checkUnknownKeys rejects YAML mappings that carry keys outside the known
// set, so typos fail loudly at load time instead of being silently dropped.
func checkUnknownKeys(value *yaml.Node, context string, known []string) error {
	if value.Kind != yaml.MappingNode {
		return nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !knownSet[key] {
			return fmt.Errorf("%w: unknown key %q in %s (line %d)", ErrInvalidYAML, key, context, value.Content[i].Line)
		}
	}
	return nil
}
