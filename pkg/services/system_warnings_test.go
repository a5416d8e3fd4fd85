package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemWarnings_AddAndGet(t *testing.T) {
	s := NewSystemWarningsService()
	assert.Empty(t, s.GetWarnings())

	id := s.AddWarning(WarningCategoryMCPHealth, "server unreachable", "dial tcp: refused", "k8s-server")
	require.NotEmpty(t, id)

	warnings := s.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningCategoryMCPHealth, warnings[0].Category)
	assert.Equal(t, "server unreachable", warnings[0].Message)
	assert.Equal(t, "dial tcp: refused", warnings[0].Details)
	assert.Equal(t, "k8s-server", warnings[0].ServerID)
	assert.False(t, warnings[0].CreatedAt.IsZero())
}

func TestSystemWarnings_ReplaceSameCategoryAndServer(t *testing.T) {
	s := NewSystemWarningsService()

	first := s.AddWarning(WarningCategoryMCPHealth, "first failure", "", "srv")
	second := s.AddWarning(WarningCategoryMCPHealth, "second failure", "", "srv")
	assert.NotEqual(t, first, second)

	warnings := s.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "second failure", warnings[0].Message)
}

func TestSystemWarnings_DistinctServersCoexist(t *testing.T) {
	s := NewSystemWarningsService()

	s.AddWarning(WarningCategoryMCPHealth, "a down", "", "server-a")
	s.AddWarning(WarningCategoryMCPHealth, "b down", "", "server-b")
	s.AddWarning(WarningCategoryHistory, "history disabled", "", "")

	assert.Len(t, s.GetWarnings(), 3)
}

func TestSystemWarnings_ClearByServerID(t *testing.T) {
	s := NewSystemWarningsService()
	s.AddWarning(WarningCategoryMCPHealth, "down", "", "srv")

	assert.True(t, s.ClearByServerID(WarningCategoryMCPHealth, "srv"))
	assert.Empty(t, s.GetWarnings())

	// Clearing again is a no-op.
	assert.False(t, s.ClearByServerID(WarningCategoryMCPHealth, "srv"))
}

func TestSystemWarnings_GetReturnsCopies(t *testing.T) {
	s := NewSystemWarningsService()
	s.AddWarning(WarningCategoryHistory, "degraded", "", "")

	s.GetWarnings()[0].Message = "mutated"
	assert.Equal(t, "degraded", s.GetWarnings()[0].Message)
}
