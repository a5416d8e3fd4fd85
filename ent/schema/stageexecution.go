package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StageExecution holds the schema definition for the StageExecution entity.
// One row per attempt to run one stage for one session. Parallel stages get
// one parent row plus one child row per fanned-out agent; child rows carry
// parent_stage_execution_id.
type StageExecution struct {
	ent.Schema
}

// Fields of the StageExecution.
func (StageExecution) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("execution_id").
			Unique().
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("parent_stage_execution_id").
			Optional().
			Nillable().
			Comment("Set on child rows of a parallel stage"),
		field.String("stage_name"),
		field.Int("stage_index").
			Comment("Position in the chain definition"),
		field.String("stage_id").
			Comment("Chain-definition-local stage identifier"),
		field.String("agent").
			Comment("Agent identifier for this attempt; parent parallel rows keep the stage-level label"),
		field.Enum("status").
			Values("pending", "active", "paused", "completed", "failed", "timed_out", "cancelled", "partial").
			Default("pending"),
		field.Int64("started_at_us").
			Optional().
			Nillable().
			Comment("Nil exactly while status is pending"),
		field.Int64("completed_at_us").
			Optional().
			Nillable(),
		field.Int64("paused_at_us").
			Optional().
			Nillable(),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.JSON("stage_output", map[string]interface{}{}).
			Optional().
			Comment("Agent output; parent parallel rows store aggregation metadata here"),
		field.JSON("execution_config", map[string]interface{}{}).
			Optional().
			Comment("Per-child overrides: llm_provider, iteration_strategy, max_iterations, force_conclusion, mcp_servers"),
	}
}

// Edges of the StageExecution.
func (StageExecution) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", AlertSession.Type).
			Ref("stage_executions").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
		edge.To("children", StageExecution.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)).
			From("parent").
			Field("parent_stage_execution_id").
			Unique(),
		edge.To("llm_interactions", LLMInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("mcp_interactions", MCPInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the StageExecution.
func (StageExecution) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "stage_index"),
		index.Fields("parent_stage_execution_id"),
		index.Fields("status"),
	}
}
