package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/config"
)

func TestFactory_CreateController(t *testing.T) {
	factory := NewFactory()

	react, err := factory.CreateController(config.IterationStrategyReact, nil)
	require.NoError(t, err)
	assert.IsType(t, &ReActController{}, react)

	native, err := factory.CreateController(config.IterationStrategyNativeThinking, nil)
	require.NoError(t, err)
	assert.IsType(t, &NativeThinkingController{}, native)
}

func TestFactory_UnknownStrategy(t *testing.T) {
	factory := NewFactory()

	_, err := factory.CreateController(config.IterationStrategy("chain-of-thought"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown iteration strategy")

	_, err = factory.CreateController("", nil)
	require.Error(t, err)
}
