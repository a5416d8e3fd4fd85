// Code generated by ent, DO NOT EDIT.

package migrate

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// AlertSessionsColumns holds the columns for the "alert_sessions" table.
	AlertSessionsColumns = []*schema.Column{
		{Name: "session_id", Type: field.TypeString, Unique: true},
		{Name: "alert_id", Type: field.TypeString},
		{Name: "alert_data", Type: field.TypeJSON},
		{Name: "agent_type", Type: field.TypeString},
		{Name: "alert_type", Type: field.TypeString, Nullable: true},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"pending", "in_progress", "paused", "completed", "failed", "timed_out", "cancelled"}, Default: "pending"},
		{Name: "started_at_us", Type: field.TypeInt64},
		{Name: "completed_at_us", Type: field.TypeInt64, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true},
		{Name: "final_analysis", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "executive_summary", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "chain_id", Type: field.TypeString, Nullable: true},
		{Name: "chain_definition", Type: field.TypeJSON, Nullable: true},
		{Name: "current_stage_index", Type: field.TypeInt, Nullable: true},
		{Name: "current_stage_id", Type: field.TypeString, Nullable: true},
		{Name: "mcp_selection", Type: field.TypeJSON, Nullable: true},
		{Name: "chat_context", Type: field.TypeJSON, Nullable: true},
	}
	// AlertSessionsTable holds the schema information for the "alert_sessions" table.
	AlertSessionsTable = &schema.Table{
		Name:       "alert_sessions",
		Columns:    AlertSessionsColumns,
		PrimaryKey: []*schema.Column{AlertSessionsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "alertsession_status",
				Unique:  false,
				Columns: []*schema.Column{AlertSessionsColumns[5]},
			},
			{
				Name:    "alertsession_agent_type",
				Unique:  false,
				Columns: []*schema.Column{AlertSessionsColumns[3]},
			},
			{
				Name:    "alertsession_alert_type",
				Unique:  false,
				Columns: []*schema.Column{AlertSessionsColumns[4]},
			},
			{
				Name:    "alertsession_alert_id",
				Unique:  false,
				Columns: []*schema.Column{AlertSessionsColumns[1]},
			},
			{
				Name:    "alertsession_status_started_at_us",
				Unique:  false,
				Columns: []*schema.Column{AlertSessionsColumns[5], AlertSessionsColumns[6]},
			},
		},
	}
	// LlmInteractionsColumns holds the columns for the "llm_interactions" table.
	LlmInteractionsColumns = []*schema.Column{
		{Name: "interaction_id", Type: field.TypeString, Unique: true},
		{Name: "request_id", Type: field.TypeString},
		{Name: "provider", Type: field.TypeString},
		{Name: "model_name", Type: field.TypeString},
		{Name: "conversation", Type: field.TypeJSON},
		{Name: "timestamp_us", Type: field.TypeInt64},
		{Name: "start_time_us", Type: field.TypeInt64},
		{Name: "end_time_us", Type: field.TypeInt64, Nullable: true},
		{Name: "duration_ms", Type: field.TypeInt, Nullable: true},
		{Name: "success", Type: field.TypeBool, Default: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true},
		{Name: "token_usage", Type: field.TypeJSON, Nullable: true},
		{Name: "step_description", Type: field.TypeString, Nullable: true},
		{Name: "interaction_type", Type: field.TypeEnum, Enums: []string{"normal", "forced_conclusion", "executive_summary"}, Default: "normal"},
		{Name: "session_id", Type: field.TypeString},
		{Name: "stage_execution_id", Type: field.TypeString, Nullable: true},
	}
	// LlmInteractionsTable holds the schema information for the "llm_interactions" table.
	LlmInteractionsTable = &schema.Table{
		Name:       "llm_interactions",
		Columns:    LlmInteractionsColumns,
		PrimaryKey: []*schema.Column{LlmInteractionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "llm_interactions_alert_sessions_llm_interactions",
				Columns:    []*schema.Column{LlmInteractionsColumns[14]},
				RefColumns: []*schema.Column{AlertSessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "llm_interactions_stage_executions_llm_interactions",
				Columns:    []*schema.Column{LlmInteractionsColumns[15]},
				RefColumns: []*schema.Column{StageExecutionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "llminteraction_session_id_timestamp_us",
				Unique:  false,
				Columns: []*schema.Column{LlmInteractionsColumns[14], LlmInteractionsColumns[5]},
			},
			{
				Name:    "llminteraction_stage_execution_id_timestamp_us",
				Unique:  false,
				Columns: []*schema.Column{LlmInteractionsColumns[15], LlmInteractionsColumns[5]},
			},
		},
	}
	// McpInteractionsColumns holds the columns for the "mcp_interactions" table.
	McpInteractionsColumns = []*schema.Column{
		{Name: "interaction_id", Type: field.TypeString, Unique: true},
		{Name: "request_id", Type: field.TypeString},
		{Name: "server_name", Type: field.TypeString},
		{Name: "communication_type", Type: field.TypeEnum, Enums: []string{"tool_call", "tool_list"}},
		{Name: "tool_name", Type: field.TypeString, Nullable: true},
		{Name: "tool_arguments", Type: field.TypeJSON, Nullable: true},
		{Name: "tool_result", Type: field.TypeJSON, Nullable: true},
		{Name: "available_tools", Type: field.TypeJSON, Nullable: true},
		{Name: "timestamp_us", Type: field.TypeInt64},
		{Name: "start_time_us", Type: field.TypeInt64},
		{Name: "end_time_us", Type: field.TypeInt64, Nullable: true},
		{Name: "duration_ms", Type: field.TypeInt, Nullable: true},
		{Name: "success", Type: field.TypeBool, Default: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true},
		{Name: "step_description", Type: field.TypeString, Nullable: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "stage_execution_id", Type: field.TypeString, Nullable: true},
	}
	// McpInteractionsTable holds the schema information for the "mcp_interactions" table.
	McpInteractionsTable = &schema.Table{
		Name:       "mcp_interactions",
		Columns:    McpInteractionsColumns,
		PrimaryKey: []*schema.Column{McpInteractionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "mcp_interactions_alert_sessions_mcp_interactions",
				Columns:    []*schema.Column{McpInteractionsColumns[15]},
				RefColumns: []*schema.Column{AlertSessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "mcp_interactions_stage_executions_mcp_interactions",
				Columns:    []*schema.Column{McpInteractionsColumns[16]},
				RefColumns: []*schema.Column{StageExecutionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "mcpinteraction_session_id_timestamp_us",
				Unique:  false,
				Columns: []*schema.Column{McpInteractionsColumns[15], McpInteractionsColumns[8]},
			},
			{
				Name:    "mcpinteraction_stage_execution_id_timestamp_us",
				Unique:  false,
				Columns: []*schema.Column{McpInteractionsColumns[16], McpInteractionsColumns[8]},
			},
		},
	}
	// StageExecutionsColumns holds the columns for the "stage_executions" table.
	StageExecutionsColumns = []*schema.Column{
		{Name: "execution_id", Type: field.TypeString, Unique: true},
		{Name: "stage_name", Type: field.TypeString},
		{Name: "stage_index", Type: field.TypeInt},
		{Name: "stage_id", Type: field.TypeString},
		{Name: "agent", Type: field.TypeString},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"pending", "active", "paused", "completed", "failed", "timed_out", "cancelled", "partial"}, Default: "pending"},
		{Name: "started_at_us", Type: field.TypeInt64, Nullable: true},
		{Name: "completed_at_us", Type: field.TypeInt64, Nullable: true},
		{Name: "paused_at_us", Type: field.TypeInt64, Nullable: true},
		{Name: "duration_ms", Type: field.TypeInt, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true},
		{Name: "stage_output", Type: field.TypeJSON, Nullable: true},
		{Name: "execution_config", Type: field.TypeJSON, Nullable: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "parent_stage_execution_id", Type: field.TypeString, Nullable: true},
	}
	// StageExecutionsTable holds the schema information for the "stage_executions" table.
	StageExecutionsTable = &schema.Table{
		Name:       "stage_executions",
		Columns:    StageExecutionsColumns,
		PrimaryKey: []*schema.Column{StageExecutionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "stage_executions_alert_sessions_stage_executions",
				Columns:    []*schema.Column{StageExecutionsColumns[13]},
				RefColumns: []*schema.Column{AlertSessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "stage_executions_stage_executions_children",
				Columns:    []*schema.Column{StageExecutionsColumns[14]},
				RefColumns: []*schema.Column{StageExecutionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "stageexecution_session_id_stage_index",
				Unique:  false,
				Columns: []*schema.Column{StageExecutionsColumns[13], StageExecutionsColumns[2]},
			},
			{
				Name:    "stageexecution_parent_stage_execution_id",
				Unique:  false,
				Columns: []*schema.Column{StageExecutionsColumns[14]},
			},
			{
				Name:    "stageexecution_status",
				Unique:  false,
				Columns: []*schema.Column{StageExecutionsColumns[5]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		AlertSessionsTable,
		LlmInteractionsTable,
		McpInteractionsTable,
		StageExecutionsTable,
	}
)

func init() {
	LlmInteractionsTable.ForeignKeys[0].RefTable = AlertSessionsTable
	LlmInteractionsTable.ForeignKeys[1].RefTable = StageExecutionsTable
	McpInteractionsTable.ForeignKeys[0].RefTable = AlertSessionsTable
	McpInteractionsTable.ForeignKeys[1].RefTable = StageExecutionsTable
	StageExecutionsTable.ForeignKeys[0].RefTable = AlertSessionsTable
	StageExecutionsTable.ForeignKeys[1].RefTable = StageExecutionsTable
}
