package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStageShapeSingle(t *testing.T) {
	stage := StageConfig{Name: "triage", Agent: "KubernetesAgent"}
	require.NoError(t, stage.Validate("test-chain"))
	assert.Equal(t, StageShapeSingle, stage.Shape())
	assert.False(t, stage.IsParallel())
	assert.Equal(t, 1, stage.EffectiveReplicas())
}

func TestStageShapeMultiAgent(t *testing.T) {
	stage := StageConfig{
		Name: "fan-out",
		Agents: []StageAgentConfig{
			{Name: "KubernetesAgent"},
			{Name: "SynthesisAgent", LLMProvider: "openai-default"},
		},
	}
	require.NoError(t, stage.Validate("test-chain"))
	assert.Equal(t, StageShapeMultiAgent, stage.Shape())
	assert.True(t, stage.IsParallel())
}

func TestStageShapeReplica(t *testing.T) {
	stage := StageConfig{Name: "replicated", Agent: "KubernetesAgent", Replicas: 3}
	require.NoError(t, stage.Validate("test-chain"))
	assert.Equal(t, StageShapeReplica, stage.Shape())
	assert.True(t, stage.IsParallel())
	assert.Equal(t, 3, stage.EffectiveReplicas())
}

func TestStageValidateRejectsAmbiguousShape(t *testing.T) {
	tests := []struct {
		name    string
		stage   StageConfig
		wantMsg string
	}{
		{
			name:    "agent and agents together",
			stage:   StageConfig{Name: "s", Agent: "A", Agents: []StageAgentConfig{{Name: "B"}}},
			wantMsg: "mutually exclusive",
		},
		{
			name:    "neither agent nor agents",
			stage:   StageConfig{Name: "s"},
			wantMsg: "one of agent or agents is required",
		},
		{
			name:    "replicas with agents list",
			stage:   StageConfig{Name: "s", Agents: []StageAgentConfig{{Name: "A"}}, Replicas: 2},
			wantMsg: "replicas applies only to a single agent",
		},
		{
			name:    "success_policy on single stage",
			stage:   StageConfig{Name: "s", Agent: "A", SuccessPolicy: SuccessPolicyAny},
			wantMsg: "success_policy applies only to parallel stages",
		},
		{
			name:    "synthesis on single stage",
			stage:   StageConfig{Name: "s", Agent: "A", Synthesis: &SynthesisConfig{}},
			wantMsg: "synthesis applies only to parallel stages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stage.Validate("test-chain")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStageAgentConfigShortForm(t *testing.T) {
	var stage StageConfig
	err := yaml.Unmarshal([]byte(`
name: "fan-out"
agents:
  - "KubernetesAgent"
  - name: "SynthesisAgent"
    llm_provider: "openai-default"
    max_iterations: 5
`), &stage)
	require.NoError(t, err)

	require.Len(t, stage.Agents, 2)
	assert.Equal(t, "KubernetesAgent", stage.Agents[0].Name)
	assert.Empty(t, stage.Agents[0].LLMProvider)
	assert.Equal(t, "SynthesisAgent", stage.Agents[1].Name)
	assert.Equal(t, "openai-default", stage.Agents[1].LLMProvider)
	assert.Equal(t, 5, stage.Agents[1].MaxIterations)
}

func TestStageUnknownKeyRejected(t *testing.T) {
	var stage StageConfig
	err := yaml.Unmarshal([]byte(`
name: "typo-stage"
agent: "KubernetesAgent"
max_iteratons: 5
`), &stage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iteratons")
}

func TestChainValidateDuplicateStageName(t *testing.T) {
	chain := ChainConfig{
		ChainID: "dup-chain",
		Stages: []StageConfig{
			{Name: "stage", Agent: "A"},
			{Name: "stage", Agent: "B"},
		},
	}
	err := chain.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate stage name")
}

func TestChainValidateRequiresStages(t *testing.T) {
	chain := ChainConfig{ChainID: "empty-chain"}
	err := chain.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one stage is required")
}

func TestEffectiveSuccessPolicyDefaultsToAll(t *testing.T) {
	stage := StageConfig{Name: "s", Agents: []StageAgentConfig{{Name: "A"}, {Name: "B"}}}
	assert.Equal(t, SuccessPolicyAll, stage.EffectiveSuccessPolicy())

	stage.SuccessPolicy = SuccessPolicyAny
	assert.Equal(t, SuccessPolicyAny, stage.EffectiveSuccessPolicy())
}
