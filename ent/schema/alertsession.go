package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AlertSession holds the schema definition for the AlertSession entity.
// One row per alert being processed end-to-end.
type AlertSession struct {
	ent.Schema
}

// Fields of the AlertSession.
func (AlertSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("alert_id").
			Immutable().
			Comment("External alert identifier"),
		field.JSON("alert_data", map[string]interface{}{}).
			Comment("Original alert payload"),
		field.String("agent_type").
			Comment("Agent or chain identifier the alert was dispatched to"),
		field.String("alert_type").
			Optional().
			Comment("Alert classification (e.g., 'kubernetes')"),
		field.Enum("status").
			Values("pending", "in_progress", "paused", "completed", "failed", "timed_out", "cancelled").
			Default("pending"),
		field.Int64("started_at_us").
			Immutable().
			Comment("Microseconds since epoch at session creation"),
		field.Int64("completed_at_us").
			Optional().
			Nillable().
			Comment("Set exactly once, when the session reaches a terminal status"),
		field.String("error_message").
			Optional().
			Nillable(),
		field.Text("final_analysis").
			Optional().
			Nillable().
			Comment("Analysis produced by the last completed stage"),
		field.Text("executive_summary").
			Optional().
			Nillable().
			Comment("Brief summary generated after a successful chain"),
		field.String("chain_id").
			Optional().
			Comment("Chain selected for this alert"),
		field.JSON("chain_definition", map[string]interface{}{}).
			Optional().
			Comment("Snapshot of the chain definition at dispatch time"),
		field.Int("current_stage_index").
			Optional().
			Nillable(),
		field.String("current_stage_id").
			Optional().
			Nillable(),
		field.JSON("mcp_selection", map[string]interface{}{}).
			Optional().
			Comment("Per-alert MCP server/tool override"),
		field.JSON("chat_context", map[string]interface{}{}).
			Optional().
			Comment("Interactive chat state for paused sessions"),
	}
}

// Edges of the AlertSession.
func (AlertSession) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("stage_executions", StageExecution.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("llm_interactions", LLMInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("mcp_interactions", MCPInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the AlertSession.
func (AlertSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("agent_type"),
		index.Fields("alert_type"),
		index.Fields("alert_id"),
		index.Fields("status", "started_at_us"),
	}
}
