package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubToolExecutor(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "kubernetes-server.pods_list", Description: "List pods"},
		{Name: "kubernetes-server.pods_log", Description: "Fetch pod logs"},
	}
	executor := NewStubToolExecutor(tools)
	defer func() { require.NoError(t, executor.Close()) }()

	listed, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "kubernetes-server.pods_list", listed[0].Name)

	result, err := executor.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "kubernetes-server.pods_list",
		Arguments: `{"namespace": "default"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, "kubernetes-server.pods_list", result.Name)
	assert.Contains(t, result.Content, "[stub]")
	assert.Contains(t, result.Content, "namespace")
	assert.False(t, result.IsError)
}

func TestStubToolExecutor_NoTools(t *testing.T) {
	executor := NewStubToolExecutor(nil)

	listed, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	assert.Nil(t, listed)
}
