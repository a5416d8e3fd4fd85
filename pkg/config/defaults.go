package config

// Defaults applied when an agent or stage leaves a knob unset. The
// resolution order is stage override, then agent config, then these.
type Defaults struct {
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	MaxIterations     int               `yaml:"max_iterations,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	SuccessPolicy     SuccessPolicy     `yaml:"success_policy,omitempty"`
}

// DefaultMaxIterations bounds the investigation loop when neither the
// stage nor the agent sets a budget.
const DefaultMaxIterations = 30

// NewDefaults returns the compiled-in fallback defaults.
func NewDefaults() Defaults {
	return Defaults{
		LLMProvider:       "google-default",
		MaxIterations:     DefaultMaxIterations,
		IterationStrategy: IterationStrategyReact,
		SuccessPolicy:     SuccessPolicyAll,
	}
}

var defaultsKnownKeys = []string{"llm_provider", "max_iterations", "iteration_strategy", "success_policy"}

// Merge overlays non-zero user values onto d.
func (d *Defaults) Merge(user Defaults) {
	if user.LLMProvider != "" {
		d.LLMProvider = user.LLMProvider
	}
	if user.MaxIterations > 0 {
		d.MaxIterations = user.MaxIterations
	}
	if user.IterationStrategy != "" {
		d.IterationStrategy = user.IterationStrategy
	}
	if user.SuccessPolicy != "" {
		d.SuccessPolicy = user.SuccessPolicy
	}
}

// Validate checks the defaults block.
func (d *Defaults) Validate() error {
	if d.IterationStrategy != "" && !d.IterationStrategy.IsValid() {
		return NewValidationError("defaults", "", "iteration_strategy",
			ErrInvalidValue)
	}
	if d.SuccessPolicy != "" && !d.SuccessPolicy.IsValid() {
		return NewValidationError("defaults", "", "success_policy",
			ErrInvalidValue)
	}
	return nil
}
