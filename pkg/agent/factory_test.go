package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/config"
)

type stubControllerFactory struct {
	err     error
	created []config.IterationStrategy
}

func (f *stubControllerFactory) CreateController(strategy config.IterationStrategy, execCtx *ExecutionContext) (Controller, error) {
	f.created = append(f.created, strategy)
	if f.err != nil {
		return nil, f.err
	}
	return &stubController{}, nil
}

type stubController struct{}

func (c *stubController) Run(ctx context.Context, execCtx *ExecutionContext) (*ExecutionResult, error) {
	return &ExecutionResult{Status: ExecutionStatusCompleted, FinalAnalysis: "stub"}, nil
}

func TestAgentFactory_CreateAgent(t *testing.T) {
	execCtxFor := func(strategy config.IterationStrategy) *ExecutionContext {
		return &ExecutionContext{Config: &ResolvedAgentConfig{IterationStrategy: strategy}}
	}

	t.Run("builds an agent per strategy", func(t *testing.T) {
		for _, strategy := range []config.IterationStrategy{
			config.IterationStrategyReact,
			config.IterationStrategyNativeThinking,
		} {
			cf := &stubControllerFactory{}
			agent, err := NewAgentFactory(cf).CreateAgent(execCtxFor(strategy))
			require.NoError(t, err)
			assert.IsType(t, &BaseAgent{}, agent)
			assert.Equal(t, []config.IterationStrategy{strategy}, cf.created,
				"controller factory should receive the configured strategy")
		}
	})

	t.Run("propagates controller creation failure", func(t *testing.T) {
		cf := &stubControllerFactory{err: errors.New("unsupported")}
		_, err := NewAgentFactory(cf).CreateAgent(execCtxFor(config.IterationStrategy("invalid")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported")
		assert.Contains(t, err.Error(), "invalid")
	})

	t.Run("rejects missing context or config", func(t *testing.T) {
		factory := NewAgentFactory(&stubControllerFactory{})

		for _, execCtx := range []*ExecutionContext{nil, {Config: nil}} {
			_, err := factory.CreateAgent(execCtx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "execution context and config must not be nil")
		}
	})
}
