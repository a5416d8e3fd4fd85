package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

// LLMInteraction holds the schema definition for the LLMInteraction entity.
// One recorded LLM call, captured by the hook fabric. Immutable after write.
type LLMInteraction struct {
	ent.Schema
}

// Fields of the LLMInteraction.
func (LLMInteraction) Fields() []ent.Field {
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
			Immutable().
			Comment("Short per-call correlation id"),
		field.String("provider").
			Comment("LLM provider name used for this call"),
		field.String("model_name"),
		field.JSON("conversation", []models.ConversationMessage{}).
			Comment("Ordered system/user/assistant messages as sent and received"),
		field.Int64("timestamp_us").
			Immutable().
			Comment("Chronological ordering key for timeline reconstruction"),
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
		field.JSON("token_usage", &models.TokenUsage{}).
			Optional(),
		field.String("step_description").
			Optional(),
		field.Enum("interaction_type").
			Values("normal", "forced_conclusion", "executive_summary").
			Default("normal"),
	}
}

// Edges of the LLMInteraction.
func (LLMInteraction) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", AlertSession.Type).
			Ref("llm_interactions").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
		edge.From("stage_execution", StageExecution.Type).
			Ref("llm_interactions").
			Field("stage_execution_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the LLMInteraction.
func (LLMInteraction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "timestamp_us"),
		index.Fields("stage_execution_id", "timestamp_us"),
	}
}
