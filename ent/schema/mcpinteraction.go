package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// MCPInteraction holds the schema definition for the MCPInteraction entity.
// One recorded tool-server operation (tool call or tool listing). Immutable
// after write.
type MCPInteraction struct {
	ent.Schema
}

// Fields of the MCPInteraction.
func (MCPInteraction) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("interaction_id").
			Unique().
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("stage_execution_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("request_id").
			Immutable(),
		field.String("server_name"),
		field.Enum("communication_type").
			Values("tool_call", "tool_list"),
		field.String("tool_name").
			Optional().
			Nillable().
			Comment("Required for tool_call, absent for tool_list"),
		field.JSON("tool_arguments", map[string]interface{}{}).
			Optional(),
		field.JSON("tool_result", map[string]interface{}{}).
			Optional(),
		field.JSON("available_tools", []models.MCPToolInfo{}).
			Optional().
			Comment("Tool catalogue returned by a tool_list operation"),
		field.Int64("timestamp_us").
			Immutable(),
		field.Int64("start_time_us"),
		field.Int64("end_time_us").
			Optional().
			Nillable(),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.Bool("success").
			Default(true),
		field.String("error_message").
			Optional().
			Nillable(),
		field.String("step_description").
			Optional(),
	}
}

// Edges of the MCPInteraction.
func (MCPInteraction) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", AlertSession.Type).
			Ref("mcp_interactions").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
		edge.From("stage_execution", StageExecution.Type).
			Ref("mcp_interactions").
			Field("stage_execution_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the MCPInteraction.
func (MCPInteraction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "timestamp_us"),
		index.Fields("stage_execution_id", "timestamp_us"),
	}
}
