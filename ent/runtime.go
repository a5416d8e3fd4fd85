// Code generated by ent, DO NOT EDIT.

package ent

import (
	"github.com/tarsy-bot/tarsy/ent/llminteraction"
	"github.com/tarsy-bot/tarsy/ent/mcpinteraction"
	"github.com/tarsy-bot/tarsy/ent/schema"
)

// The init function reads all schema descriptors with runtime code
// (default values, validators, hooks and policies) and stitches it
// to their package variables.
func init() {
	alertsessionFields := schema.AlertSession{}.Fields()
	_ = alertsessionFields
	llminteractionFields := schema.LLMInteraction{}.Fields()
	_ = llminteractionFields
	// llminteractionDescSuccess is the schema descriptor for success field.
	llminteractionDescSuccess := llminteractionFields[11].Descriptor()
	// llminteraction.DefaultSuccess holds the default value on creation for the success field.
	llminteraction.DefaultSuccess = llminteractionDescSuccess.Default.(bool)
	mcpinteractionFields := schema.MCPInteraction{}.Fields()
	_ = mcpinteractionFields
	// mcpinteractionDescSuccess is the schema descriptor for success field.
	mcpinteractionDescSuccess := mcpinteractionFields[14].Descriptor()
	// mcpinteraction.DefaultSuccess holds the default value on creation for the success field.
	mcpinteraction.DefaultSuccess = mcpinteractionDescSuccess.Default.(bool)
	stageexecutionFields := schema.StageExecution{}.Fields()
	_ = stageexecutionFields
}
