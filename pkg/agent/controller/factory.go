// Package controller provides iteration strategy implementations for agents.
package controller

import (
	"fmt"

	"github.com/tarsy-bot/tarsy/pkg/agent"
	"github.com/tarsy-bot/tarsy/pkg/config"
)

// Factory creates controllers by iteration strategy.
// Implements agent.ControllerFactory.
type Factory struct{}

// NewFactory creates a new controller factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateController builds a Controller for the given strategy. Synthesis
// executions do not flow through here — the stage executor constructs a
// SynthesisController directly.
func (f *Factory) CreateController(strategy config.IterationStrategy, execCtx *agent.ExecutionContext) (agent.Controller, error) {
	switch strategy {
	case config.IterationStrategyReact:
		return NewReActController(), nil
	case config.IterationStrategyNativeThinking:
		return NewNativeThinkingController(), nil
	default:
		return nil, fmt.Errorf("unknown iteration strategy: %q", strategy)
	}
}
