// Code generated by ent, DO NOT EDIT.

package ent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"entgo.io/ent"
	"entgo.io/ent/dialect/sql"
	"github.com/tarsy-bot/tarsy/ent/alertsession"
	"github.com/tarsy-bot/tarsy/ent/llminteraction"
	"github.com/tarsy-bot/tarsy/ent/mcpinteraction"
	"github.com/tarsy-bot/tarsy/ent/predicate"
	"github.com/tarsy-bot/tarsy/ent/stageexecution"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

const (
	// Operation types.
	OpCreate    = ent.OpCreate
	OpDelete    = ent.OpDelete
	OpDeleteOne = ent.OpDeleteOne
	OpUpdate    = ent.OpUpdate
	OpUpdateOne = ent.OpUpdateOne

	// Node types.
	TypeAlertSession   = "AlertSession"
	TypeLLMInteraction = "LLMInteraction"
	TypeMCPInteraction = "MCPInteraction"
	TypeStageExecution = "StageExecution"
)

// AlertSessionMutation represents an operation that mutates the AlertSession nodes in the graph.
type AlertSessionMutation struct {
	config
	op                      Op
	typ                     string
	id                      *string
	alert_id                *string
	alert_data              *map[string]interface{}
	agent_type              *string
	alert_type              *string
	status                  *alertsession.Status
	started_at_us           *int64
	addstarted_at_us        *int64
	completed_at_us         *int64
	addcompleted_at_us      *int64
	error_message           *string
	final_analysis          *string
	executive_summary       *string
	chain_id                *string
	chain_definition        *map[string]interface{}
	current_stage_index     *int
	addcurrent_stage_index  *int
	current_stage_id        *string
	mcp_selection           *map[string]interface{}
	chat_context            *map[string]interface{}
	clearedFields           map[string]struct{}
	stage_executions        map[string]struct{}
	removedstage_executions map[string]struct{}
	clearedstage_executions bool
	llm_interactions        map[string]struct{}
	removedllm_interactions map[string]struct{}
	clearedllm_interactions bool
	mcp_interactions        map[string]struct{}
	removedmcp_interactions map[string]struct{}
	clearedmcp_interactions bool
	done                    bool
	oldValue                func(context.Context) (*AlertSession, error)
	predicates              []predicate.AlertSession
}

var _ ent.Mutation = (*AlertSessionMutation)(nil)

// alertsessionOption allows management of the mutation configuration using functional options.
type alertsessionOption func(*AlertSessionMutation)

// newAlertSessionMutation creates new mutation for the AlertSession entity.
func newAlertSessionMutation(c config, op Op, opts ...alertsessionOption) *AlertSessionMutation {
	m := &AlertSessionMutation{
		config:        c,
		op:            op,
		typ:           TypeAlertSession,
		clearedFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withAlertSessionID sets the ID field of the mutation.
func withAlertSessionID(id string) alertsessionOption {
	return func(m *AlertSessionMutation) {
		var (
			err   error
			once  sync.Once
			value *AlertSession
		)
		m.oldValue = func(ctx context.Context) (*AlertSession, error) {
			once.Do(func() {
				if m.done {
					err = errors.New("querying old values post mutation is not allowed")
				} else {
					value, err = m.Client().AlertSession.Get(ctx, id)
				}
			})
			return value, err
		}
		m.id = &id
	}
}

// withAlertSession sets the old AlertSession of the mutation.
func withAlertSession(node *AlertSession) alertsessionOption {
	return func(m *AlertSessionMutation) {
		m.oldValue = func(context.Context) (*AlertSession, error) {
			return node, nil
		}
		m.id = &node.ID
	}
}

// Client returns a new `ent.Client` from the mutation. If the mutation was
// executed in a transaction (ent.Tx), a transactional client is returned.
func (m AlertSessionMutation) Client() *Client {
	client := &Client{config: m.config}
	client.init()
	return client
}

// Tx returns an `ent.Tx` for mutations that were executed in transactions;
// it returns an error otherwise.
func (m AlertSessionMutation) Tx() (*Tx, error) {
	if _, ok := m.driver.(*txDriver); !ok {
		return nil, errors.New("ent: mutation is not running in a transaction")
	}
	tx := &Tx{config: m.config}
	tx.init()
	return tx, nil
}

// SetID sets the value of the id field. Note that this
// operation is only accepted on creation of AlertSession entities.
func (m *AlertSessionMutation) SetID(id string) {
	m.id = &id
}

// ID returns the ID value in the mutation. Note that the ID is only available
// if it was provided to the builder or after it was returned from the database.
func (m *AlertSessionMutation) ID() (id string, exists bool) {
	if m.id == nil {
		return
	}
	return *m.id, true
}

// IDs queries the database and returns the entity ids that match the mutation's predicate.
// That means, if the mutation is applied within a transaction with an isolation level such
// as sql.LevelSerializable, the returned ids match the ids of the rows that will be updated
// or updated by the mutation.
func (m *AlertSessionMutation) IDs(ctx context.Context) ([]string, error) {
	switch {
	case m.op.Is(OpUpdateOne | OpDeleteOne):
		id, exists := m.ID()
		if exists {
			return []string{id}, nil
		}
		fallthrough
	case m.op.Is(OpUpdate | OpDelete):
		return m.Client().AlertSession.Query().Where(m.predicates...).IDs(ctx)
	default:
		return nil, fmt.Errorf("IDs is not allowed on %s operations", m.op)
	}
}

// SetAlertID sets the "alert_id" field.
func (m *AlertSessionMutation) SetAlertID(s string) {
	m.alert_id = &s
}

// AlertID returns the value of the "alert_id" field in the mutation.
func (m *AlertSessionMutation) AlertID() (r string, exists bool) {
	v := m.alert_id
	if v == nil {
		return
	}
	return *v, true
}

// OldAlertID returns the old "alert_id" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldAlertID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAlertID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAlertID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAlertID: %w", err)
	}
	return oldValue.AlertID, nil
}

// ResetAlertID resets all changes to the "alert_id" field.
func (m *AlertSessionMutation) ResetAlertID() {
	m.alert_id = nil
}

// SetAlertData sets the "alert_data" field.
func (m *AlertSessionMutation) SetAlertData(value map[string]interface{}) {
	m.alert_data = &value
}

// AlertData returns the value of the "alert_data" field in the mutation.
func (m *AlertSessionMutation) AlertData() (r map[string]interface{}, exists bool) {
	v := m.alert_data
	if v == nil {
		return
	}
	return *v, true
}

// OldAlertData returns the old "alert_data" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldAlertData(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAlertData is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAlertData requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAlertData: %w", err)
	}
	return oldValue.AlertData, nil
}

// ResetAlertData resets all changes to the "alert_data" field.
func (m *AlertSessionMutation) ResetAlertData() {
	m.alert_data = nil
}

// SetAgentType sets the "agent_type" field.
func (m *AlertSessionMutation) SetAgentType(s string) {
	m.agent_type = &s
}

// AgentType returns the value of the "agent_type" field in the mutation.
func (m *AlertSessionMutation) AgentType() (r string, exists bool) {
	v := m.agent_type
	if v == nil {
		return
	}
	return *v, true
}

// OldAgentType returns the old "agent_type" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldAgentType(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAgentType is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAgentType requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAgentType: %w", err)
	}
	return oldValue.AgentType, nil
}

// ResetAgentType resets all changes to the "agent_type" field.
func (m *AlertSessionMutation) ResetAgentType() {
	m.agent_type = nil
}

// SetAlertType sets the "alert_type" field.
func (m *AlertSessionMutation) SetAlertType(s string) {
	m.alert_type = &s
}

// AlertType returns the value of the "alert_type" field in the mutation.
func (m *AlertSessionMutation) AlertType() (r string, exists bool) {
	v := m.alert_type
	if v == nil {
		return
	}
	return *v, true
}

// OldAlertType returns the old "alert_type" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldAlertType(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAlertType is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAlertType requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAlertType: %w", err)
	}
	return oldValue.AlertType, nil
}

// ClearAlertType clears the value of the "alert_type" field.
func (m *AlertSessionMutation) ClearAlertType() {
	m.alert_type = nil
	m.clearedFields[alertsession.FieldAlertType] = struct{}{}
}

// AlertTypeCleared returns if the "alert_type" field was cleared in this mutation.
func (m *AlertSessionMutation) AlertTypeCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldAlertType]
	return ok
}

// ResetAlertType resets all changes to the "alert_type" field.
func (m *AlertSessionMutation) ResetAlertType() {
	m.alert_type = nil
	delete(m.clearedFields, alertsession.FieldAlertType)
}

// SetStatus sets the "status" field.
func (m *AlertSessionMutation) SetStatus(a alertsession.Status) {
	m.status = &a
}

// Status returns the value of the "status" field in the mutation.
func (m *AlertSessionMutation) Status() (r alertsession.Status, exists bool) {
	v := m.status
	if v == nil {
		return
	}
	return *v, true
}

// OldStatus returns the old "status" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldStatus(ctx context.Context) (v alertsession.Status, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStatus is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStatus requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStatus: %w", err)
	}
	return oldValue.Status, nil
}

// ResetStatus resets all changes to the "status" field.
func (m *AlertSessionMutation) ResetStatus() {
	m.status = nil
}

// SetStartedAtUs sets the "started_at_us" field.
func (m *AlertSessionMutation) SetStartedAtUs(i int64) {
	m.started_at_us = &i
	m.addstarted_at_us = nil
}

// StartedAtUs returns the value of the "started_at_us" field in the mutation.
func (m *AlertSessionMutation) StartedAtUs() (r int64, exists bool) {
	v := m.started_at_us
	if v == nil {
		return
	}
	return *v, true
}

// OldStartedAtUs returns the old "started_at_us" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldStartedAtUs(ctx context.Context) (v int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStartedAtUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStartedAtUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStartedAtUs: %w", err)
	}
	return oldValue.StartedAtUs, nil
}

// AddStartedAtUs adds i to the "started_at_us" field.
func (m *AlertSessionMutation) AddStartedAtUs(i int64) {
	if m.addstarted_at_us != nil {
		*m.addstarted_at_us += i
	} else {
		m.addstarted_at_us = &i
	}
}

// AddedStartedAtUs returns the value that was added to the "started_at_us" field in this mutation.
func (m *AlertSessionMutation) AddedStartedAtUs() (r int64, exists bool) {
	v := m.addstarted_at_us
	if v == nil {
		return
	}
	return *v, true
}

// ResetStartedAtUs resets all changes to the "started_at_us" field.
func (m *AlertSessionMutation) ResetStartedAtUs() {
	m.started_at_us = nil
	m.addstarted_at_us = nil
}

// SetCompletedAtUs sets the "completed_at_us" field.
func (m *AlertSessionMutation) SetCompletedAtUs(i int64) {
	m.completed_at_us = &i
	m.addcompleted_at_us = nil
}

// CompletedAtUs returns the value of the "completed_at_us" field in the mutation.
func (m *AlertSessionMutation) CompletedAtUs() (r int64, exists bool) {
	v := m.completed_at_us
	if v == nil {
		return
	}
	return *v, true
}

// OldCompletedAtUs returns the old "completed_at_us" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldCompletedAtUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldCompletedAtUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldCompletedAtUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldCompletedAtUs: %w", err)
	}
	return oldValue.CompletedAtUs, nil
}

// AddCompletedAtUs adds i to the "completed_at_us" field.
func (m *AlertSessionMutation) AddCompletedAtUs(i int64) {
	if m.addcompleted_at_us != nil {
		*m.addcompleted_at_us += i
	} else {
		m.addcompleted_at_us = &i
	}
}

// AddedCompletedAtUs returns the value that was added to the "completed_at_us" field in this mutation.
func (m *AlertSessionMutation) AddedCompletedAtUs() (r int64, exists bool) {
	v := m.addcompleted_at_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearCompletedAtUs clears the value of the "completed_at_us" field.
func (m *AlertSessionMutation) ClearCompletedAtUs() {
	m.completed_at_us = nil
	m.addcompleted_at_us = nil
	m.clearedFields[alertsession.FieldCompletedAtUs] = struct{}{}
}

// CompletedAtUsCleared returns if the "completed_at_us" field was cleared in this mutation.
func (m *AlertSessionMutation) CompletedAtUsCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldCompletedAtUs]
	return ok
}

// ResetCompletedAtUs resets all changes to the "completed_at_us" field.
func (m *AlertSessionMutation) ResetCompletedAtUs() {
	m.completed_at_us = nil
	m.addcompleted_at_us = nil
	delete(m.clearedFields, alertsession.FieldCompletedAtUs)
}

// SetErrorMessage sets the "error_message" field.
func (m *AlertSessionMutation) SetErrorMessage(s string) {
	m.error_message = &s
}

// ErrorMessage returns the value of the "error_message" field in the mutation.
func (m *AlertSessionMutation) ErrorMessage() (r string, exists bool) {
	v := m.error_message
	if v == nil {
		return
	}
	return *v, true
}

// OldErrorMessage returns the old "error_message" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldErrorMessage(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldErrorMessage is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldErrorMessage requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldErrorMessage: %w", err)
	}
	return oldValue.ErrorMessage, nil
}

// ClearErrorMessage clears the value of the "error_message" field.
func (m *AlertSessionMutation) ClearErrorMessage() {
	m.error_message = nil
	m.clearedFields[alertsession.FieldErrorMessage] = struct{}{}
}

// ErrorMessageCleared returns if the "error_message" field was cleared in this mutation.
func (m *AlertSessionMutation) ErrorMessageCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldErrorMessage]
	return ok
}

// ResetErrorMessage resets all changes to the "error_message" field.
func (m *AlertSessionMutation) ResetErrorMessage() {
	m.error_message = nil
	delete(m.clearedFields, alertsession.FieldErrorMessage)
}

// SetFinalAnalysis sets the "final_analysis" field.
func (m *AlertSessionMutation) SetFinalAnalysis(s string) {
	m.final_analysis = &s
}

// FinalAnalysis returns the value of the "final_analysis" field in the mutation.
func (m *AlertSessionMutation) FinalAnalysis() (r string, exists bool) {
	v := m.final_analysis
	if v == nil {
		return
	}
	return *v, true
}

// OldFinalAnalysis returns the old "final_analysis" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldFinalAnalysis(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldFinalAnalysis is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldFinalAnalysis requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldFinalAnalysis: %w", err)
	}
	return oldValue.FinalAnalysis, nil
}

// ClearFinalAnalysis clears the value of the "final_analysis" field.
func (m *AlertSessionMutation) ClearFinalAnalysis() {
	m.final_analysis = nil
	m.clearedFields[alertsession.FieldFinalAnalysis] = struct{}{}
}

// FinalAnalysisCleared returns if the "final_analysis" field was cleared in this mutation.
func (m *AlertSessionMutation) FinalAnalysisCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldFinalAnalysis]
	return ok
}

// ResetFinalAnalysis resets all changes to the "final_analysis" field.
func (m *AlertSessionMutation) ResetFinalAnalysis() {
	m.final_analysis = nil
	delete(m.clearedFields, alertsession.FieldFinalAnalysis)
}

// SetExecutiveSummary sets the "executive_summary" field.
func (m *AlertSessionMutation) SetExecutiveSummary(s string) {
	m.executive_summary = &s
}

// ExecutiveSummary returns the value of the "executive_summary" field in the mutation.
func (m *AlertSessionMutation) ExecutiveSummary() (r string, exists bool) {
	v := m.executive_summary
	if v == nil {
		return
	}
	return *v, true
}

// OldExecutiveSummary returns the old "executive_summary" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldExecutiveSummary(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldExecutiveSummary is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldExecutiveSummary requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldExecutiveSummary: %w", err)
	}
	return oldValue.ExecutiveSummary, nil
}

// ClearExecutiveSummary clears the value of the "executive_summary" field.
func (m *AlertSessionMutation) ClearExecutiveSummary() {
	m.executive_summary = nil
	m.clearedFields[alertsession.FieldExecutiveSummary] = struct{}{}
}

// ExecutiveSummaryCleared returns if the "executive_summary" field was cleared in this mutation.
func (m *AlertSessionMutation) ExecutiveSummaryCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldExecutiveSummary]
	return ok
}

// ResetExecutiveSummary resets all changes to the "executive_summary" field.
func (m *AlertSessionMutation) ResetExecutiveSummary() {
	m.executive_summary = nil
	delete(m.clearedFields, alertsession.FieldExecutiveSummary)
}

// SetChainID sets the "chain_id" field.
func (m *AlertSessionMutation) SetChainID(s string) {
	m.chain_id = &s
}

// ChainID returns the value of the "chain_id" field in the mutation.
func (m *AlertSessionMutation) ChainID() (r string, exists bool) {
	v := m.chain_id
	if v == nil {
		return
	}
	return *v, true
}

// OldChainID returns the old "chain_id" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldChainID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldChainID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldChainID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldChainID: %w", err)
	}
	return oldValue.ChainID, nil
}

// ClearChainID clears the value of the "chain_id" field.
func (m *AlertSessionMutation) ClearChainID() {
	m.chain_id = nil
	m.clearedFields[alertsession.FieldChainID] = struct{}{}
}

// ChainIDCleared returns if the "chain_id" field was cleared in this mutation.
func (m *AlertSessionMutation) ChainIDCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldChainID]
	return ok
}

// ResetChainID resets all changes to the "chain_id" field.
func (m *AlertSessionMutation) ResetChainID() {
	m.chain_id = nil
	delete(m.clearedFields, alertsession.FieldChainID)
}

// SetChainDefinition sets the "chain_definition" field.
func (m *AlertSessionMutation) SetChainDefinition(value map[string]interface{}) {
	m.chain_definition = &value
}

// ChainDefinition returns the value of the "chain_definition" field in the mutation.
func (m *AlertSessionMutation) ChainDefinition() (r map[string]interface{}, exists bool) {
	v := m.chain_definition
	if v == nil {
		return
	}
	return *v, true
}

// OldChainDefinition returns the old "chain_definition" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldChainDefinition(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldChainDefinition is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldChainDefinition requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldChainDefinition: %w", err)
	}
	return oldValue.ChainDefinition, nil
}

// ClearChainDefinition clears the value of the "chain_definition" field.
func (m *AlertSessionMutation) ClearChainDefinition() {
	m.chain_definition = nil
	m.clearedFields[alertsession.FieldChainDefinition] = struct{}{}
}

// ChainDefinitionCleared returns if the "chain_definition" field was cleared in this mutation.
func (m *AlertSessionMutation) ChainDefinitionCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldChainDefinition]
	return ok
}

// ResetChainDefinition resets all changes to the "chain_definition" field.
func (m *AlertSessionMutation) ResetChainDefinition() {
	m.chain_definition = nil
	delete(m.clearedFields, alertsession.FieldChainDefinition)
}

// SetCurrentStageIndex sets the "current_stage_index" field.
func (m *AlertSessionMutation) SetCurrentStageIndex(i int) {
	m.current_stage_index = &i
	m.addcurrent_stage_index = nil
}

// CurrentStageIndex returns the value of the "current_stage_index" field in the mutation.
func (m *AlertSessionMutation) CurrentStageIndex() (r int, exists bool) {
	v := m.current_stage_index
	if v == nil {
		return
	}
	return *v, true
}

// OldCurrentStageIndex returns the old "current_stage_index" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldCurrentStageIndex(ctx context.Context) (v *int, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldCurrentStageIndex is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldCurrentStageIndex requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldCurrentStageIndex: %w", err)
	}
	return oldValue.CurrentStageIndex, nil
}

// AddCurrentStageIndex adds i to the "current_stage_index" field.
func (m *AlertSessionMutation) AddCurrentStageIndex(i int) {
	if m.addcurrent_stage_index != nil {
		*m.addcurrent_stage_index += i
	} else {
		m.addcurrent_stage_index = &i
	}
}

// AddedCurrentStageIndex returns the value that was added to the "current_stage_index" field in this mutation.
func (m *AlertSessionMutation) AddedCurrentStageIndex() (r int, exists bool) {
	v := m.addcurrent_stage_index
	if v == nil {
		return
	}
	return *v, true
}

// ClearCurrentStageIndex clears the value of the "current_stage_index" field.
func (m *AlertSessionMutation) ClearCurrentStageIndex() {
	m.current_stage_index = nil
	m.addcurrent_stage_index = nil
	m.clearedFields[alertsession.FieldCurrentStageIndex] = struct{}{}
}

// CurrentStageIndexCleared returns if the "current_stage_index" field was cleared in this mutation.
func (m *AlertSessionMutation) CurrentStageIndexCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldCurrentStageIndex]
	return ok
}

// ResetCurrentStageIndex resets all changes to the "current_stage_index" field.
func (m *AlertSessionMutation) ResetCurrentStageIndex() {
	m.current_stage_index = nil
	m.addcurrent_stage_index = nil
	delete(m.clearedFields, alertsession.FieldCurrentStageIndex)
}

// SetCurrentStageID sets the "current_stage_id" field.
func (m *AlertSessionMutation) SetCurrentStageID(s string) {
	m.current_stage_id = &s
}

// CurrentStageID returns the value of the "current_stage_id" field in the mutation.
func (m *AlertSessionMutation) CurrentStageID() (r string, exists bool) {
	v := m.current_stage_id
	if v == nil {
		return
	}
	return *v, true
}

// OldCurrentStageID returns the old "current_stage_id" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldCurrentStageID(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldCurrentStageID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldCurrentStageID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldCurrentStageID: %w", err)
	}
	return oldValue.CurrentStageID, nil
}

// ClearCurrentStageID clears the value of the "current_stage_id" field.
func (m *AlertSessionMutation) ClearCurrentStageID() {
	m.current_stage_id = nil
	m.clearedFields[alertsession.FieldCurrentStageID] = struct{}{}
}

// CurrentStageIDCleared returns if the "current_stage_id" field was cleared in this mutation.
func (m *AlertSessionMutation) CurrentStageIDCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldCurrentStageID]
	return ok
}

// ResetCurrentStageID resets all changes to the "current_stage_id" field.
func (m *AlertSessionMutation) ResetCurrentStageID() {
	m.current_stage_id = nil
	delete(m.clearedFields, alertsession.FieldCurrentStageID)
}

// SetMcpSelection sets the "mcp_selection" field.
func (m *AlertSessionMutation) SetMcpSelection(value map[string]interface{}) {
	m.mcp_selection = &value
}

// McpSelection returns the value of the "mcp_selection" field in the mutation.
func (m *AlertSessionMutation) McpSelection() (r map[string]interface{}, exists bool) {
	v := m.mcp_selection
	if v == nil {
		return
	}
	return *v, true
}

// OldMcpSelection returns the old "mcp_selection" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldMcpSelection(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldMcpSelection is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldMcpSelection requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldMcpSelection: %w", err)
	}
	return oldValue.McpSelection, nil
}

// ClearMcpSelection clears the value of the "mcp_selection" field.
func (m *AlertSessionMutation) ClearMcpSelection() {
	m.mcp_selection = nil
	m.clearedFields[alertsession.FieldMcpSelection] = struct{}{}
}

// McpSelectionCleared returns if the "mcp_selection" field was cleared in this mutation.
func (m *AlertSessionMutation) McpSelectionCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldMcpSelection]
	return ok
}

// ResetMcpSelection resets all changes to the "mcp_selection" field.
func (m *AlertSessionMutation) ResetMcpSelection() {
	m.mcp_selection = nil
	delete(m.clearedFields, alertsession.FieldMcpSelection)
}

// SetChatContext sets the "chat_context" field.
func (m *AlertSessionMutation) SetChatContext(value map[string]interface{}) {
	m.chat_context = &value
}

// ChatContext returns the value of the "chat_context" field in the mutation.
func (m *AlertSessionMutation) ChatContext() (r map[string]interface{}, exists bool) {
	v := m.chat_context
	if v == nil {
		return
	}
	return *v, true
}

// OldChatContext returns the old "chat_context" field's value of the AlertSession entity.
// If the AlertSession object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *AlertSessionMutation) OldChatContext(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldChatContext is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldChatContext requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldChatContext: %w", err)
	}
	return oldValue.ChatContext, nil
}

// ClearChatContext clears the value of the "chat_context" field.
func (m *AlertSessionMutation) ClearChatContext() {
	m.chat_context = nil
	m.clearedFields[alertsession.FieldChatContext] = struct{}{}
}

// ChatContextCleared returns if the "chat_context" field was cleared in this mutation.
func (m *AlertSessionMutation) ChatContextCleared() bool {
	_, ok := m.clearedFields[alertsession.FieldChatContext]
	return ok
}

// ResetChatContext resets all changes to the "chat_context" field.
func (m *AlertSessionMutation) ResetChatContext() {
	m.chat_context = nil
	delete(m.clearedFields, alertsession.FieldChatContext)
}

// AddStageExecutionIDs adds the "stage_executions" edge to the StageExecution entity by ids.
func (m *AlertSessionMutation) AddStageExecutionIDs(ids ...string) {
	if m.stage_executions == nil {
		m.stage_executions = make(map[string]struct{})
	}
	for i := range ids {
		m.stage_executions[ids[i]] = struct{}{}
	}
}

// ClearStageExecutions clears the "stage_executions" edge to the StageExecution entity.
func (m *AlertSessionMutation) ClearStageExecutions() {
	m.clearedstage_executions = true
}

// StageExecutionsCleared reports if the "stage_executions" edge to the StageExecution entity was cleared.
func (m *AlertSessionMutation) StageExecutionsCleared() bool {
	return m.clearedstage_executions
}

// RemoveStageExecutionIDs removes the "stage_executions" edge to the StageExecution entity by IDs.
func (m *AlertSessionMutation) RemoveStageExecutionIDs(ids ...string) {
	if m.removedstage_executions == nil {
		m.removedstage_executions = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.stage_executions, ids[i])
		m.removedstage_executions[ids[i]] = struct{}{}
	}
}

// RemovedStageExecutions returns the removed IDs of the "stage_executions" edge to the StageExecution entity.
func (m *AlertSessionMutation) RemovedStageExecutionsIDs() (ids []string) {
	for id := range m.removedstage_executions {
		ids = append(ids, id)
	}
	return
}

// StageExecutionsIDs returns the "stage_executions" edge IDs in the mutation.
func (m *AlertSessionMutation) StageExecutionsIDs() (ids []string) {
	for id := range m.stage_executions {
		ids = append(ids, id)
	}
	return
}

// ResetStageExecutions resets all changes to the "stage_executions" edge.
func (m *AlertSessionMutation) ResetStageExecutions() {
	m.stage_executions = nil
	m.clearedstage_executions = false
	m.removedstage_executions = nil
}

// AddLlmInteractionIDs adds the "llm_interactions" edge to the LLMInteraction entity by ids.
func (m *AlertSessionMutation) AddLlmInteractionIDs(ids ...string) {
	if m.llm_interactions == nil {
		m.llm_interactions = make(map[string]struct{})
	}
	for i := range ids {
		m.llm_interactions[ids[i]] = struct{}{}
	}
}

// ClearLlmInteractions clears the "llm_interactions" edge to the LLMInteraction entity.
func (m *AlertSessionMutation) ClearLlmInteractions() {
	m.clearedllm_interactions = true
}

// LlmInteractionsCleared reports if the "llm_interactions" edge to the LLMInteraction entity was cleared.
func (m *AlertSessionMutation) LlmInteractionsCleared() bool {
	return m.clearedllm_interactions
}

// RemoveLlmInteractionIDs removes the "llm_interactions" edge to the LLMInteraction entity by IDs.
func (m *AlertSessionMutation) RemoveLlmInteractionIDs(ids ...string) {
	if m.removedllm_interactions == nil {
		m.removedllm_interactions = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.llm_interactions, ids[i])
		m.removedllm_interactions[ids[i]] = struct{}{}
	}
}

// RemovedLlmInteractions returns the removed IDs of the "llm_interactions" edge to the LLMInteraction entity.
func (m *AlertSessionMutation) RemovedLlmInteractionsIDs() (ids []string) {
	for id := range m.removedllm_interactions {
		ids = append(ids, id)
	}
	return
}

// LlmInteractionsIDs returns the "llm_interactions" edge IDs in the mutation.
func (m *AlertSessionMutation) LlmInteractionsIDs() (ids []string) {
	for id := range m.llm_interactions {
		ids = append(ids, id)
	}
	return
}

// ResetLlmInteractions resets all changes to the "llm_interactions" edge.
func (m *AlertSessionMutation) ResetLlmInteractions() {
	m.llm_interactions = nil
	m.clearedllm_interactions = false
	m.removedllm_interactions = nil
}

// AddMcpInteractionIDs adds the "mcp_interactions" edge to the MCPInteraction entity by ids.
func (m *AlertSessionMutation) AddMcpInteractionIDs(ids ...string) {
	if m.mcp_interactions == nil {
		m.mcp_interactions = make(map[string]struct{})
	}
	for i := range ids {
		m.mcp_interactions[ids[i]] = struct{}{}
	}
}

// ClearMcpInteractions clears the "mcp_interactions" edge to the MCPInteraction entity.
func (m *AlertSessionMutation) ClearMcpInteractions() {
	m.clearedmcp_interactions = true
}

// McpInteractionsCleared reports if the "mcp_interactions" edge to the MCPInteraction entity was cleared.
func (m *AlertSessionMutation) McpInteractionsCleared() bool {
	return m.clearedmcp_interactions
}

// RemoveMcpInteractionIDs removes the "mcp_interactions" edge to the MCPInteraction entity by IDs.
func (m *AlertSessionMutation) RemoveMcpInteractionIDs(ids ...string) {
	if m.removedmcp_interactions == nil {
		m.removedmcp_interactions = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.mcp_interactions, ids[i])
		m.removedmcp_interactions[ids[i]] = struct{}{}
	}
}

// RemovedMcpInteractions returns the removed IDs of the "mcp_interactions" edge to the MCPInteraction entity.
func (m *AlertSessionMutation) RemovedMcpInteractionsIDs() (ids []string) {
	for id := range m.removedmcp_interactions {
		ids = append(ids, id)
	}
	return
}

// McpInteractionsIDs returns the "mcp_interactions" edge IDs in the mutation.
func (m *AlertSessionMutation) McpInteractionsIDs() (ids []string) {
	for id := range m.mcp_interactions {
		ids = append(ids, id)
	}
	return
}

// ResetMcpInteractions resets all changes to the "mcp_interactions" edge.
func (m *AlertSessionMutation) ResetMcpInteractions() {
	m.mcp_interactions = nil
	m.clearedmcp_interactions = false
	m.removedmcp_interactions = nil
}

// Where appends a list predicates to the AlertSessionMutation builder.
func (m *AlertSessionMutation) Where(ps ...predicate.AlertSession) {
	m.predicates = append(m.predicates, ps...)
}

// WhereP appends storage-level predicates to the AlertSessionMutation builder. Using this method,
// users can use type-assertion to append predicates that do not depend on any generated package.
func (m *AlertSessionMutation) WhereP(ps ...func(*sql.Selector)) {
	p := make([]predicate.AlertSession, len(ps))
	for i := range ps {
		p[i] = ps[i]
	}
	m.Where(p...)
}

// Op returns the operation name.
func (m *AlertSessionMutation) Op() Op {
	return m.op
}

// SetOp allows setting the mutation operation.
func (m *AlertSessionMutation) SetOp(op Op) {
	m.op = op
}

// Type returns the node type of this mutation (AlertSession).
func (m *AlertSessionMutation) Type() string {
	return m.typ
}

// Fields returns all fields that were changed during this mutation. Note that in
// order to get all numeric fields that were incremented/decremented, call
// AddedFields().
func (m *AlertSessionMutation) Fields() []string {
	fields := make([]string, 0, 16)
	if m.alert_id != nil {
		fields = append(fields, alertsession.FieldAlertID)
	}
	if m.alert_data != nil {
		fields = append(fields, alertsession.FieldAlertData)
	}
	if m.agent_type != nil {
		fields = append(fields, alertsession.FieldAgentType)
	}
	if m.alert_type != nil {
		fields = append(fields, alertsession.FieldAlertType)
	}
	if m.status != nil {
		fields = append(fields, alertsession.FieldStatus)
	}
	if m.started_at_us != nil {
		fields = append(fields, alertsession.FieldStartedAtUs)
	}
	if m.completed_at_us != nil {
		fields = append(fields, alertsession.FieldCompletedAtUs)
	}
	if m.error_message != nil {
		fields = append(fields, alertsession.FieldErrorMessage)
	}
	if m.final_analysis != nil {
		fields = append(fields, alertsession.FieldFinalAnalysis)
	}
	if m.executive_summary != nil {
		fields = append(fields, alertsession.FieldExecutiveSummary)
	}
	if m.chain_id != nil {
		fields = append(fields, alertsession.FieldChainID)
	}
	if m.chain_definition != nil {
		fields = append(fields, alertsession.FieldChainDefinition)
	}
	if m.current_stage_index != nil {
		fields = append(fields, alertsession.FieldCurrentStageIndex)
	}
	if m.current_stage_id != nil {
		fields = append(fields, alertsession.FieldCurrentStageID)
	}
	if m.mcp_selection != nil {
		fields = append(fields, alertsession.FieldMcpSelection)
	}
	if m.chat_context != nil {
		fields = append(fields, alertsession.FieldChatContext)
	}
	return fields
}

// Field returns the value of a field with the given name. The second boolean
// return value indicates that this field was not set, or was not defined in the
// schema.
func (m *AlertSessionMutation) Field(name string) (ent.Value, bool) {
	switch name {
	case alertsession.FieldAlertID:
		return m.AlertID()
	case alertsession.FieldAlertData:
		return m.AlertData()
	case alertsession.FieldAgentType:
		return m.AgentType()
	case alertsession.FieldAlertType:
		return m.AlertType()
	case alertsession.FieldStatus:
		return m.Status()
	case alertsession.FieldStartedAtUs:
		return m.StartedAtUs()
	case alertsession.FieldCompletedAtUs:
		return m.CompletedAtUs()
	case alertsession.FieldErrorMessage:
		return m.ErrorMessage()
	case alertsession.FieldFinalAnalysis:
		return m.FinalAnalysis()
	case alertsession.FieldExecutiveSummary:
		return m.ExecutiveSummary()
	case alertsession.FieldChainID:
		return m.ChainID()
	case alertsession.FieldChainDefinition:
		return m.ChainDefinition()
	case alertsession.FieldCurrentStageIndex:
		return m.CurrentStageIndex()
	case alertsession.FieldCurrentStageID:
		return m.CurrentStageID()
	case alertsession.FieldMcpSelection:
		return m.McpSelection()
	case alertsession.FieldChatContext:
		return m.ChatContext()
	}
	return nil, false
}

// OldField returns the old value of the field from the database. An error is
// returned if the mutation operation is not UpdateOne, or the query to the
// database failed.
func (m *AlertSessionMutation) OldField(ctx context.Context, name string) (ent.Value, error) {
	switch name {
	case alertsession.FieldAlertID:
		return m.OldAlertID(ctx)
	case alertsession.FieldAlertData:
		return m.OldAlertData(ctx)
	case alertsession.FieldAgentType:
		return m.OldAgentType(ctx)
	case alertsession.FieldAlertType:
		return m.OldAlertType(ctx)
	case alertsession.FieldStatus:
		return m.OldStatus(ctx)
	case alertsession.FieldStartedAtUs:
		return m.OldStartedAtUs(ctx)
	case alertsession.FieldCompletedAtUs:
		return m.OldCompletedAtUs(ctx)
	case alertsession.FieldErrorMessage:
		return m.OldErrorMessage(ctx)
	case alertsession.FieldFinalAnalysis:
		return m.OldFinalAnalysis(ctx)
	case alertsession.FieldExecutiveSummary:
		return m.OldExecutiveSummary(ctx)
	case alertsession.FieldChainID:
		return m.OldChainID(ctx)
	case alertsession.FieldChainDefinition:
		return m.OldChainDefinition(ctx)
	case alertsession.FieldCurrentStageIndex:
		return m.OldCurrentStageIndex(ctx)
	case alertsession.FieldCurrentStageID:
		return m.OldCurrentStageID(ctx)
	case alertsession.FieldMcpSelection:
		return m.OldMcpSelection(ctx)
	case alertsession.FieldChatContext:
		return m.OldChatContext(ctx)
	}
	return nil, fmt.Errorf("unknown AlertSession field %s", name)
}

// SetField sets the value of a field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *AlertSessionMutation) SetField(name string, value ent.Value) error {
	switch name {
	case alertsession.FieldAlertID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAlertID(v)
		return nil
	case alertsession.FieldAlertData:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAlertData(v)
		return nil
	case alertsession.FieldAgentType:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAgentType(v)
		return nil
	case alertsession.FieldAlertType:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAlertType(v)
		return nil
	case alertsession.FieldStatus:
		v, ok := value.(alertsession.Status)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStatus(v)
		return nil
	case alertsession.FieldStartedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStartedAtUs(v)
		return nil
	case alertsession.FieldCompletedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetCompletedAtUs(v)
		return nil
	case alertsession.FieldErrorMessage:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetErrorMessage(v)
		return nil
	case alertsession.FieldFinalAnalysis:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetFinalAnalysis(v)
		return nil
	case alertsession.FieldExecutiveSummary:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetExecutiveSummary(v)
		return nil
	case alertsession.FieldChainID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetChainID(v)
		return nil
	case alertsession.FieldChainDefinition:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetChainDefinition(v)
		return nil
	case alertsession.FieldCurrentStageIndex:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetCurrentStageIndex(v)
		return nil
	case alertsession.FieldCurrentStageID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetCurrentStageID(v)
		return nil
	case alertsession.FieldMcpSelection:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetMcpSelection(v)
		return nil
	case alertsession.FieldChatContext:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetChatContext(v)
		return nil
	}
	return fmt.Errorf("unknown AlertSession field %s", name)
}

// AddedFields returns all numeric fields that were incremented/decremented during
// this mutation.
func (m *AlertSessionMutation) AddedFields() []string {
	var fields []string
	if m.addstarted_at_us != nil {
		fields = append(fields, alertsession.FieldStartedAtUs)
	}
	if m.addcompleted_at_us != nil {
		fields = append(fields, alertsession.FieldCompletedAtUs)
	}
	if m.addcurrent_stage_index != nil {
		fields = append(fields, alertsession.FieldCurrentStageIndex)
	}
	return fields
}

// AddedField returns the numeric value that was incremented/decremented on a field
// with the given name. The second boolean return value indicates that this field
// was not set, or was not defined in the schema.
func (m *AlertSessionMutation) AddedField(name string) (ent.Value, bool) {
	switch name {
	case alertsession.FieldStartedAtUs:
		return m.AddedStartedAtUs()
	case alertsession.FieldCompletedAtUs:
		return m.AddedCompletedAtUs()
	case alertsession.FieldCurrentStageIndex:
		return m.AddedCurrentStageIndex()
	}
	return nil, false
}

// AddField adds the value to the field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *AlertSessionMutation) AddField(name string, value ent.Value) error {
	switch name {
	case alertsession.FieldStartedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddStartedAtUs(v)
		return nil
	case alertsession.FieldCompletedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddCompletedAtUs(v)
		return nil
	case alertsession.FieldCurrentStageIndex:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddCurrentStageIndex(v)
		return nil
	}
	return fmt.Errorf("unknown AlertSession numeric field %s", name)
}

// ClearedFields returns all nullable fields that were cleared during this
// mutation.
func (m *AlertSessionMutation) ClearedFields() []string {
	var fields []string
	if m.FieldCleared(alertsession.FieldAlertType) {
		fields = append(fields, alertsession.FieldAlertType)
	}
	if m.FieldCleared(alertsession.FieldCompletedAtUs) {
		fields = append(fields, alertsession.FieldCompletedAtUs)
	}
	if m.FieldCleared(alertsession.FieldErrorMessage) {
		fields = append(fields, alertsession.FieldErrorMessage)
	}
	if m.FieldCleared(alertsession.FieldFinalAnalysis) {
		fields = append(fields, alertsession.FieldFinalAnalysis)
	}
	if m.FieldCleared(alertsession.FieldExecutiveSummary) {
		fields = append(fields, alertsession.FieldExecutiveSummary)
	}
	if m.FieldCleared(alertsession.FieldChainID) {
		fields = append(fields, alertsession.FieldChainID)
	}
	if m.FieldCleared(alertsession.FieldChainDefinition) {
		fields = append(fields, alertsession.FieldChainDefinition)
	}
	if m.FieldCleared(alertsession.FieldCurrentStageIndex) {
		fields = append(fields, alertsession.FieldCurrentStageIndex)
	}
	if m.FieldCleared(alertsession.FieldCurrentStageID) {
		fields = append(fields, alertsession.FieldCurrentStageID)
	}
	if m.FieldCleared(alertsession.FieldMcpSelection) {
		fields = append(fields, alertsession.FieldMcpSelection)
	}
	if m.FieldCleared(alertsession.FieldChatContext) {
		fields = append(fields, alertsession.FieldChatContext)
	}
	return fields
}

// FieldCleared returns a boolean indicating if a field with the given name was
// cleared in this mutation.
func (m *AlertSessionMutation) FieldCleared(name string) bool {
	_, ok := m.clearedFields[name]
	return ok
}

// ClearField clears the value of the field with the given name. It returns an
// error if the field is not defined in the schema.
func (m *AlertSessionMutation) ClearField(name string) error {
	switch name {
	case alertsession.FieldAlertType:
		m.ClearAlertType()
		return nil
	case alertsession.FieldCompletedAtUs:
		m.ClearCompletedAtUs()
		return nil
	case alertsession.FieldErrorMessage:
		m.ClearErrorMessage()
		return nil
	case alertsession.FieldFinalAnalysis:
		m.ClearFinalAnalysis()
		return nil
	case alertsession.FieldExecutiveSummary:
		m.ClearExecutiveSummary()
		return nil
	case alertsession.FieldChainID:
		m.ClearChainID()
		return nil
	case alertsession.FieldChainDefinition:
		m.ClearChainDefinition()
		return nil
	case alertsession.FieldCurrentStageIndex:
		m.ClearCurrentStageIndex()
		return nil
	case alertsession.FieldCurrentStageID:
		m.ClearCurrentStageID()
		return nil
	case alertsession.FieldMcpSelection:
		m.ClearMcpSelection()
		return nil
	case alertsession.FieldChatContext:
		m.ClearChatContext()
		return nil
	}
	return fmt.Errorf("unknown AlertSession nullable field %s", name)
}

// ResetField resets all changes in the mutation for the field with the given name.
// It returns an error if the field is not defined in the schema.
func (m *AlertSessionMutation) ResetField(name string) error {
	switch name {
	case alertsession.FieldAlertID:
		m.ResetAlertID()
		return nil
	case alertsession.FieldAlertData:
		m.ResetAlertData()
		return nil
	case alertsession.FieldAgentType:
		m.ResetAgentType()
		return nil
	case alertsession.FieldAlertType:
		m.ResetAlertType()
		return nil
	case alertsession.FieldStatus:
		m.ResetStatus()
		return nil
	case alertsession.FieldStartedAtUs:
		m.ResetStartedAtUs()
		return nil
	case alertsession.FieldCompletedAtUs:
		m.ResetCompletedAtUs()
		return nil
	case alertsession.FieldErrorMessage:
		m.ResetErrorMessage()
		return nil
	case alertsession.FieldFinalAnalysis:
		m.ResetFinalAnalysis()
		return nil
	case alertsession.FieldExecutiveSummary:
		m.ResetExecutiveSummary()
		return nil
	case alertsession.FieldChainID:
		m.ResetChainID()
		return nil
	case alertsession.FieldChainDefinition:
		m.ResetChainDefinition()
		return nil
	case alertsession.FieldCurrentStageIndex:
		m.ResetCurrentStageIndex()
		return nil
	case alertsession.FieldCurrentStageID:
		m.ResetCurrentStageID()
		return nil
	case alertsession.FieldMcpSelection:
		m.ResetMcpSelection()
		return nil
	case alertsession.FieldChatContext:
		m.ResetChatContext()
		return nil
	}
	return fmt.Errorf("unknown AlertSession field %s", name)
}

// AddedEdges returns all edge names that were set/added in this mutation.
func (m *AlertSessionMutation) AddedEdges() []string {
	edges := make([]string, 0, 3)
	if m.stage_executions != nil {
		edges = append(edges, alertsession.EdgeStageExecutions)
	}
	if m.llm_interactions != nil {
		edges = append(edges, alertsession.EdgeLlmInteractions)
	}
	if m.mcp_interactions != nil {
		edges = append(edges, alertsession.EdgeMcpInteractions)
	}
	return edges
}

// AddedIDs returns all IDs (to other nodes) that were added for the given edge
// name in this mutation.
func (m *AlertSessionMutation) AddedIDs(name string) []ent.Value {
	switch name {
	case alertsession.EdgeStageExecutions:
		ids := make([]ent.Value, 0, len(m.stage_executions))
		for id := range m.stage_executions {
			ids = append(ids, id)
		}
		return ids
	case alertsession.EdgeLlmInteractions:
		ids := make([]ent.Value, 0, len(m.llm_interactions))
		for id := range m.llm_interactions {
			ids = append(ids, id)
		}
		return ids
	case alertsession.EdgeMcpInteractions:
		ids := make([]ent.Value, 0, len(m.mcp_interactions))
		for id := range m.mcp_interactions {
			ids = append(ids, id)
		}
		return ids
	}
	return nil
}

// RemovedEdges returns all edge names that were removed in this mutation.
func (m *AlertSessionMutation) RemovedEdges() []string {
	edges := make([]string, 0, 3)
	if m.removedstage_executions != nil {
		edges = append(edges, alertsession.EdgeStageExecutions)
	}
	if m.removedllm_interactions != nil {
		edges = append(edges, alertsession.EdgeLlmInteractions)
	}
	if m.removedmcp_interactions != nil {
		edges = append(edges, alertsession.EdgeMcpInteractions)
	}
	return edges
}

// RemovedIDs returns all IDs (to other nodes) that were removed for the edge with
// the given name in this mutation.
func (m *AlertSessionMutation) RemovedIDs(name string) []ent.Value {
	switch name {
	case alertsession.EdgeStageExecutions:
		ids := make([]ent.Value, 0, len(m.removedstage_executions))
		for id := range m.removedstage_executions {
			ids = append(ids, id)
		}
		return ids
	case alertsession.EdgeLlmInteractions:
		ids := make([]ent.Value, 0, len(m.removedllm_interactions))
		for id := range m.removedllm_interactions {
			ids = append(ids, id)
		}
		return ids
	case alertsession.EdgeMcpInteractions:
		ids := make([]ent.Value, 0, len(m.removedmcp_interactions))
		for id := range m.removedmcp_interactions {
			ids = append(ids, id)
		}
		return ids
	}
	return nil
}

// ClearedEdges returns all edge names that were cleared in this mutation.
func (m *AlertSessionMutation) ClearedEdges() []string {
	edges := make([]string, 0, 3)
	if m.clearedstage_executions {
		edges = append(edges, alertsession.EdgeStageExecutions)
	}
	if m.clearedllm_interactions {
		edges = append(edges, alertsession.EdgeLlmInteractions)
	}
	if m.clearedmcp_interactions {
		edges = append(edges, alertsession.EdgeMcpInteractions)
	}
	return edges
}

// EdgeCleared returns a boolean which indicates if the edge with the given name
// was cleared in this mutation.
func (m *AlertSessionMutation) EdgeCleared(name string) bool {
	switch name {
	case alertsession.EdgeStageExecutions:
		return m.clearedstage_executions
	case alertsession.EdgeLlmInteractions:
		return m.clearedllm_interactions
	case alertsession.EdgeMcpInteractions:
		return m.clearedmcp_interactions
	}
	return false
}

// ClearEdge clears the value of the edge with the given name. It returns an error
// if that edge is not defined in the schema.
func (m *AlertSessionMutation) ClearEdge(name string) error {
	switch name {
	}
	return fmt.Errorf("unknown AlertSession unique edge %s", name)
}

// ResetEdge resets all changes to the edge with the given name in this mutation.
// It returns an error if the edge is not defined in the schema.
func (m *AlertSessionMutation) ResetEdge(name string) error {
	switch name {
	case alertsession.EdgeStageExecutions:
		m.ResetStageExecutions()
		return nil
	case alertsession.EdgeLlmInteractions:
		m.ResetLlmInteractions()
		return nil
	case alertsession.EdgeMcpInteractions:
		m.ResetMcpInteractions()
		return nil
	}
	return fmt.Errorf("unknown AlertSession edge %s", name)
}

// LLMInteractionMutation represents an operation that mutates the LLMInteraction nodes in the graph.
type LLMInteractionMutation struct {
	config
	op                     Op
	typ                    string
	id                     *string
	request_id             *string
	provider               *string
	model_name             *string
	conversation           *[]models.ConversationMessage
	appendconversation     []models.ConversationMessage
	timestamp_us           *int64
	addtimestamp_us        *int64
	start_time_us          *int64
	addstart_time_us       *int64
	end_time_us            *int64
	addend_time_us         *int64
	duration_ms            *int
	addduration_ms         *int
	success                *bool
	error_message          *string
	token_usage            **models.TokenUsage
	step_description       *string
	interaction_type       *llminteraction.InteractionType
	clearedFields          map[string]struct{}
	session                *string
	clearedsession         bool
	stage_execution        *string
	clearedstage_execution bool
	done                   bool
	oldValue               func(context.Context) (*LLMInteraction, error)
	predicates             []predicate.LLMInteraction
}

var _ ent.Mutation = (*LLMInteractionMutation)(nil)

// llminteractionOption allows management of the mutation configuration using functional options.
type llminteractionOption func(*LLMInteractionMutation)

// newLLMInteractionMutation creates new mutation for the LLMInteraction entity.
func newLLMInteractionMutation(c config, op Op, opts ...llminteractionOption) *LLMInteractionMutation {
	m := &LLMInteractionMutation{
		config:        c,
		op:            op,
		typ:           TypeLLMInteraction,
		clearedFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withLLMInteractionID sets the ID field of the mutation.
func withLLMInteractionID(id string) llminteractionOption {
	return func(m *LLMInteractionMutation) {
		var (
			err   error
			once  sync.Once
			value *LLMInteraction
		)
		m.oldValue = func(ctx context.Context) (*LLMInteraction, error) {
			once.Do(func() {
				if m.done {
					err = errors.New("querying old values post mutation is not allowed")
				} else {
					value, err = m.Client().LLMInteraction.Get(ctx, id)
				}
			})
			return value, err
		}
		m.id = &id
	}
}

// withLLMInteraction sets the old LLMInteraction of the mutation.
func withLLMInteraction(node *LLMInteraction) llminteractionOption {
	return func(m *LLMInteractionMutation) {
		m.oldValue = func(context.Context) (*LLMInteraction, error) {
			return node, nil
		}
		m.id = &node.ID
	}
}

// Client returns a new `ent.Client` from the mutation. If the mutation was
// executed in a transaction (ent.Tx), a transactional client is returned.
func (m LLMInteractionMutation) Client() *Client {
	client := &Client{config: m.config}
	client.init()
	return client
}

// Tx returns an `ent.Tx` for mutations that were executed in transactions;
// it returns an error otherwise.
func (m LLMInteractionMutation) Tx() (*Tx, error) {
	if _, ok := m.driver.(*txDriver); !ok {
		return nil, errors.New("ent: mutation is not running in a transaction")
	}
	tx := &Tx{config: m.config}
	tx.init()
	return tx, nil
}

// SetID sets the value of the id field. Note that this
// operation is only accepted on creation of LLMInteraction entities.
func (m *LLMInteractionMutation) SetID(id string) {
	m.id = &id
}

// ID returns the ID value in the mutation. Note that the ID is only available
// if it was provided to the builder or after it was returned from the database.
func (m *LLMInteractionMutation) ID() (id string, exists bool) {
	if m.id == nil {
		return
	}
	return *m.id, true
}

// IDs queries the database and returns the entity ids that match the mutation's predicate.
// That means, if the mutation is applied within a transaction with an isolation level such
// as sql.LevelSerializable, the returned ids match the ids of the rows that will be updated
// or updated by the mutation.
func (m *LLMInteractionMutation) IDs(ctx context.Context) ([]string, error) {
	switch {
	case m.op.Is(OpUpdateOne | OpDeleteOne):
		id, exists := m.ID()
		if exists {
			return []string{id}, nil
		}
		fallthrough
	case m.op.Is(OpUpdate | OpDelete):
		return m.Client().LLMInteraction.Query().Where(m.predicates...).IDs(ctx)
	default:
		return nil, fmt.Errorf("IDs is not allowed on %s operations", m.op)
	}
}

// SetSessionID sets the "session_id" field.
func (m *LLMInteractionMutation) SetSessionID(s string) {
	m.session = &s
}

// SessionID returns the value of the "session_id" field in the mutation.
func (m *LLMInteractionMutation) SessionID() (r string, exists bool) {
	v := m.session
	if v == nil {
		return
	}
	return *v, true
}

// OldSessionID returns the old "session_id" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldSessionID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldSessionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldSessionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldSessionID: %w", err)
	}
	return oldValue.SessionID, nil
}

// ResetSessionID resets all changes to the "session_id" field.
func (m *LLMInteractionMutation) ResetSessionID() {
	m.session = nil
}

// SetStageExecutionID sets the "stage_execution_id" field.
func (m *LLMInteractionMutation) SetStageExecutionID(s string) {
	m.stage_execution = &s
}

// StageExecutionID returns the value of the "stage_execution_id" field in the mutation.
func (m *LLMInteractionMutation) StageExecutionID() (r string, exists bool) {
	v := m.stage_execution
	if v == nil {
		return
	}
	return *v, true
}

// OldStageExecutionID returns the old "stage_execution_id" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldStageExecutionID(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageExecutionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageExecutionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageExecutionID: %w", err)
	}
	return oldValue.StageExecutionID, nil
}

// ClearStageExecutionID clears the value of the "stage_execution_id" field.
func (m *LLMInteractionMutation) ClearStageExecutionID() {
	m.stage_execution = nil
	m.clearedFields[llminteraction.FieldStageExecutionID] = struct{}{}
}

// StageExecutionIDCleared returns if the "stage_execution_id" field was cleared in this mutation.
func (m *LLMInteractionMutation) StageExecutionIDCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldStageExecutionID]
	return ok
}

// ResetStageExecutionID resets all changes to the "stage_execution_id" field.
func (m *LLMInteractionMutation) ResetStageExecutionID() {
	m.stage_execution = nil
	delete(m.clearedFields, llminteraction.FieldStageExecutionID)
}

// SetRequestID sets the "request_id" field.
func (m *LLMInteractionMutation) SetRequestID(s string) {
	m.request_id = &s
}

// RequestID returns the value of the "request_id" field in the mutation.
func (m *LLMInteractionMutation) RequestID() (r string, exists bool) {
	v := m.request_id
	if v == nil {
		return
	}
	return *v, true
}

// OldRequestID returns the old "request_id" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldRequestID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldRequestID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldRequestID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldRequestID: %w", err)
	}
	return oldValue.RequestID, nil
}

// ResetRequestID resets all changes to the "request_id" field.
func (m *LLMInteractionMutation) ResetRequestID() {
	m.request_id = nil
}

// SetProvider sets the "provider" field.
func (m *LLMInteractionMutation) SetProvider(s string) {
	m.provider = &s
}

// Provider returns the value of the "provider" field in the mutation.
func (m *LLMInteractionMutation) Provider() (r string, exists bool) {
	v := m.provider
	if v == nil {
		return
	}
	return *v, true
}

// OldProvider returns the old "provider" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldProvider(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldProvider is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldProvider requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldProvider: %w", err)
	}
	return oldValue.Provider, nil
}

// ResetProvider resets all changes to the "provider" field.
func (m *LLMInteractionMutation) ResetProvider() {
	m.provider = nil
}

// SetModelName sets the "model_name" field.
func (m *LLMInteractionMutation) SetModelName(s string) {
	m.model_name = &s
}

// ModelName returns the value of the "model_name" field in the mutation.
func (m *LLMInteractionMutation) ModelName() (r string, exists bool) {
	v := m.model_name
	if v == nil {
		return
	}
	return *v, true
}

// OldModelName returns the old "model_name" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldModelName(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldModelName is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldModelName requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldModelName: %w", err)
	}
	return oldValue.ModelName, nil
}

// ResetModelName resets all changes to the "model_name" field.
func (m *LLMInteractionMutation) ResetModelName() {
	m.model_name = nil
}

// SetConversation sets the "conversation" field.
func (m *LLMInteractionMutation) SetConversation(mm []models.ConversationMessage) {
	m.conversation = &mm
	m.appendconversation = nil
}

// Conversation returns the value of the "conversation" field in the mutation.
func (m *LLMInteractionMutation) Conversation() (r []models.ConversationMessage, exists bool) {
	v := m.conversation
	if v == nil {
		return
	}
	return *v, true
}

// OldConversation returns the old "conversation" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldConversation(ctx context.Context) (v []models.ConversationMessage, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldConversation is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldConversation requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldConversation: %w", err)
	}
	return oldValue.Conversation, nil
}

// AppendConversation adds mm to the "conversation" field.
func (m *LLMInteractionMutation) AppendConversation(mm []models.ConversationMessage) {
	m.appendconversation = append(m.appendconversation, mm...)
}

// AppendedConversation returns the list of values that were appended to the "conversation" field in this mutation.
func (m *LLMInteractionMutation) AppendedConversation() ([]models.ConversationMessage, bool) {
	if len(m.appendconversation) == 0 {
		return nil, false
	}
	return m.appendconversation, true
}

// ResetConversation resets all changes to the "conversation" field.
func (m *LLMInteractionMutation) ResetConversation() {
	m.conversation = nil
	m.appendconversation = nil
}

// SetTimestampUs sets the "timestamp_us" field.
func (m *LLMInteractionMutation) SetTimestampUs(i int64) {
	m.timestamp_us = &i
	m.addtimestamp_us = nil
}

// TimestampUs returns the value of the "timestamp_us" field in the mutation.
func (m *LLMInteractionMutation) TimestampUs() (r int64, exists bool) {
	v := m.timestamp_us
	if v == nil {
		return
	}
	return *v, true
}

// OldTimestampUs returns the old "timestamp_us" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldTimestampUs(ctx context.Context) (v int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldTimestampUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldTimestampUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldTimestampUs: %w", err)
	}
	return oldValue.TimestampUs, nil
}

// AddTimestampUs adds i to the "timestamp_us" field.
func (m *LLMInteractionMutation) AddTimestampUs(i int64) {
	if m.addtimestamp_us != nil {
		*m.addtimestamp_us += i
	} else {
		m.addtimestamp_us = &i
	}
}

// AddedTimestampUs returns the value that was added to the "timestamp_us" field in this mutation.
func (m *LLMInteractionMutation) AddedTimestampUs() (r int64, exists bool) {
	v := m.addtimestamp_us
	if v == nil {
		return
	}
	return *v, true
}

// ResetTimestampUs resets all changes to the "timestamp_us" field.
func (m *LLMInteractionMutation) ResetTimestampUs() {
	m.timestamp_us = nil
	m.addtimestamp_us = nil
}

// SetStartTimeUs sets the "start_time_us" field.
func (m *LLMInteractionMutation) SetStartTimeUs(i int64) {
	m.start_time_us = &i
	m.addstart_time_us = nil
}

// StartTimeUs returns the value of the "start_time_us" field in the mutation.
func (m *LLMInteractionMutation) StartTimeUs() (r int64, exists bool) {
	v := m.start_time_us
	if v == nil {
		return
	}
	return *v, true
}

// OldStartTimeUs returns the old "start_time_us" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldStartTimeUs(ctx context.Context) (v int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStartTimeUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStartTimeUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStartTimeUs: %w", err)
	}
	return oldValue.StartTimeUs, nil
}

// AddStartTimeUs adds i to the "start_time_us" field.
func (m *LLMInteractionMutation) AddStartTimeUs(i int64) {
	if m.addstart_time_us != nil {
		*m.addstart_time_us += i
	} else {
		m.addstart_time_us = &i
	}
}

// AddedStartTimeUs returns the value that was added to the "start_time_us" field in this mutation.
func (m *LLMInteractionMutation) AddedStartTimeUs() (r int64, exists bool) {
	v := m.addstart_time_us
	if v == nil {
		return
	}
	return *v, true
}

// ResetStartTimeUs resets all changes to the "start_time_us" field.
func (m *LLMInteractionMutation) ResetStartTimeUs() {
	m.start_time_us = nil
	m.addstart_time_us = nil
}

// SetEndTimeUs sets the "end_time_us" field.
func (m *LLMInteractionMutation) SetEndTimeUs(i int64) {
	m.end_time_us = &i
	m.addend_time_us = nil
}

// EndTimeUs returns the value of the "end_time_us" field in the mutation.
func (m *LLMInteractionMutation) EndTimeUs() (r int64, exists bool) {
	v := m.end_time_us
	if v == nil {
		return
	}
	return *v, true
}

// OldEndTimeUs returns the old "end_time_us" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldEndTimeUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldEndTimeUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldEndTimeUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldEndTimeUs: %w", err)
	}
	return oldValue.EndTimeUs, nil
}

// AddEndTimeUs adds i to the "end_time_us" field.
func (m *LLMInteractionMutation) AddEndTimeUs(i int64) {
	if m.addend_time_us != nil {
		*m.addend_time_us += i
	} else {
		m.addend_time_us = &i
	}
}

// AddedEndTimeUs returns the value that was added to the "end_time_us" field in this mutation.
func (m *LLMInteractionMutation) AddedEndTimeUs() (r int64, exists bool) {
	v := m.addend_time_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearEndTimeUs clears the value of the "end_time_us" field.
func (m *LLMInteractionMutation) ClearEndTimeUs() {
	m.end_time_us = nil
	m.addend_time_us = nil
	m.clearedFields[llminteraction.FieldEndTimeUs] = struct{}{}
}

// EndTimeUsCleared returns if the "end_time_us" field was cleared in this mutation.
func (m *LLMInteractionMutation) EndTimeUsCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldEndTimeUs]
	return ok
}

// ResetEndTimeUs resets all changes to the "end_time_us" field.
func (m *LLMInteractionMutation) ResetEndTimeUs() {
	m.end_time_us = nil
	m.addend_time_us = nil
	delete(m.clearedFields, llminteraction.FieldEndTimeUs)
}

// SetDurationMs sets the "duration_ms" field.
func (m *LLMInteractionMutation) SetDurationMs(i int) {
	m.duration_ms = &i
	m.addduration_ms = nil
}

// DurationMs returns the value of the "duration_ms" field in the mutation.
func (m *LLMInteractionMutation) DurationMs() (r int, exists bool) {
	v := m.duration_ms
	if v == nil {
		return
	}
	return *v, true
}

// OldDurationMs returns the old "duration_ms" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldDurationMs(ctx context.Context) (v *int, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldDurationMs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldDurationMs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldDurationMs: %w", err)
	}
	return oldValue.DurationMs, nil
}

// AddDurationMs adds i to the "duration_ms" field.
func (m *LLMInteractionMutation) AddDurationMs(i int) {
	if m.addduration_ms != nil {
		*m.addduration_ms += i
	} else {
		m.addduration_ms = &i
	}
}

// AddedDurationMs returns the value that was added to the "duration_ms" field in this mutation.
func (m *LLMInteractionMutation) AddedDurationMs() (r int, exists bool) {
	v := m.addduration_ms
	if v == nil {
		return
	}
	return *v, true
}

// ClearDurationMs clears the value of the "duration_ms" field.
func (m *LLMInteractionMutation) ClearDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	m.clearedFields[llminteraction.FieldDurationMs] = struct{}{}
}

// DurationMsCleared returns if the "duration_ms" field was cleared in this mutation.
func (m *LLMInteractionMutation) DurationMsCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldDurationMs]
	return ok
}

// ResetDurationMs resets all changes to the "duration_ms" field.
func (m *LLMInteractionMutation) ResetDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	delete(m.clearedFields, llminteraction.FieldDurationMs)
}

// SetSuccess sets the "success" field.
func (m *LLMInteractionMutation) SetSuccess(b bool) {
	m.success = &b
}

// Success returns the value of the "success" field in the mutation.
func (m *LLMInteractionMutation) Success() (r bool, exists bool) {
	v := m.success
	if v == nil {
		return
	}
	return *v, true
}

// OldSuccess returns the old "success" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldSuccess(ctx context.Context) (v bool, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldSuccess is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldSuccess requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldSuccess: %w", err)
	}
	return oldValue.Success, nil
}

// ResetSuccess resets all changes to the "success" field.
func (m *LLMInteractionMutation) ResetSuccess() {
	m.success = nil
}

// SetErrorMessage sets the "error_message" field.
func (m *LLMInteractionMutation) SetErrorMessage(s string) {
	m.error_message = &s
}

// ErrorMessage returns the value of the "error_message" field in the mutation.
func (m *LLMInteractionMutation) ErrorMessage() (r string, exists bool) {
	v := m.error_message
	if v == nil {
		return
	}
	return *v, true
}

// OldErrorMessage returns the old "error_message" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldErrorMessage(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldErrorMessage is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldErrorMessage requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldErrorMessage: %w", err)
	}
	return oldValue.ErrorMessage, nil
}

// ClearErrorMessage clears the value of the "error_message" field.
func (m *LLMInteractionMutation) ClearErrorMessage() {
	m.error_message = nil
	m.clearedFields[llminteraction.FieldErrorMessage] = struct{}{}
}

// ErrorMessageCleared returns if the "error_message" field was cleared in this mutation.
func (m *LLMInteractionMutation) ErrorMessageCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldErrorMessage]
	return ok
}

// ResetErrorMessage resets all changes to the "error_message" field.
func (m *LLMInteractionMutation) ResetErrorMessage() {
	m.error_message = nil
	delete(m.clearedFields, llminteraction.FieldErrorMessage)
}

// SetTokenUsage sets the "token_usage" field.
func (m *LLMInteractionMutation) SetTokenUsage(mu *models.TokenUsage) {
	m.token_usage = &mu
}

// TokenUsage returns the value of the "token_usage" field in the mutation.
func (m *LLMInteractionMutation) TokenUsage() (r *models.TokenUsage, exists bool) {
	v := m.token_usage
	if v == nil {
		return
	}
	return *v, true
}

// OldTokenUsage returns the old "token_usage" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldTokenUsage(ctx context.Context) (v *models.TokenUsage, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldTokenUsage is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldTokenUsage requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldTokenUsage: %w", err)
	}
	return oldValue.TokenUsage, nil
}

// ClearTokenUsage clears the value of the "token_usage" field.
func (m *LLMInteractionMutation) ClearTokenUsage() {
	m.token_usage = nil
	m.clearedFields[llminteraction.FieldTokenUsage] = struct{}{}
}

// TokenUsageCleared returns if the "token_usage" field was cleared in this mutation.
func (m *LLMInteractionMutation) TokenUsageCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldTokenUsage]
	return ok
}

// ResetTokenUsage resets all changes to the "token_usage" field.
func (m *LLMInteractionMutation) ResetTokenUsage() {
	m.token_usage = nil
	delete(m.clearedFields, llminteraction.FieldTokenUsage)
}

// SetStepDescription sets the "step_description" field.
func (m *LLMInteractionMutation) SetStepDescription(s string) {
	m.step_description = &s
}

// StepDescription returns the value of the "step_description" field in the mutation.
func (m *LLMInteractionMutation) StepDescription() (r string, exists bool) {
	v := m.step_description
	if v == nil {
		return
	}
	return *v, true
}

// OldStepDescription returns the old "step_description" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldStepDescription(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStepDescription is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStepDescription requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStepDescription: %w", err)
	}
	return oldValue.StepDescription, nil
}

// ClearStepDescription clears the value of the "step_description" field.
func (m *LLMInteractionMutation) ClearStepDescription() {
	m.step_description = nil
	m.clearedFields[llminteraction.FieldStepDescription] = struct{}{}
}

// StepDescriptionCleared returns if the "step_description" field was cleared in this mutation.
func (m *LLMInteractionMutation) StepDescriptionCleared() bool {
	_, ok := m.clearedFields[llminteraction.FieldStepDescription]
	return ok
}

// ResetStepDescription resets all changes to the "step_description" field.
func (m *LLMInteractionMutation) ResetStepDescription() {
	m.step_description = nil
	delete(m.clearedFields, llminteraction.FieldStepDescription)
}

// SetInteractionType sets the "interaction_type" field.
func (m *LLMInteractionMutation) SetInteractionType(lt llminteraction.InteractionType) {
	m.interaction_type = &lt
}

// InteractionType returns the value of the "interaction_type" field in the mutation.
func (m *LLMInteractionMutation) InteractionType() (r llminteraction.InteractionType, exists bool) {
	v := m.interaction_type
	if v == nil {
		return
	}
	return *v, true
}

// OldInteractionType returns the old "interaction_type" field's value of the LLMInteraction entity.
// If the LLMInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *LLMInteractionMutation) OldInteractionType(ctx context.Context) (v llminteraction.InteractionType, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldInteractionType is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldInteractionType requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldInteractionType: %w", err)
	}
	return oldValue.InteractionType, nil
}

// ResetInteractionType resets all changes to the "interaction_type" field.
func (m *LLMInteractionMutation) ResetInteractionType() {
	m.interaction_type = nil
}

// ClearSession clears the "session" edge to the AlertSession entity.
func (m *LLMInteractionMutation) ClearSession() {
	m.clearedsession = true
	m.clearedFields[llminteraction.FieldSessionID] = struct{}{}
}

// SessionCleared reports if the "session" edge to the AlertSession entity was cleared.
func (m *LLMInteractionMutation) SessionCleared() bool {
	return m.clearedsession
}

// SessionIDs returns the "session" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// SessionID instead. It exists only for internal usage by the builders.
func (m *LLMInteractionMutation) SessionIDs() (ids []string) {
	if id := m.session; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetSession resets all changes to the "session" edge.
func (m *LLMInteractionMutation) ResetSession() {
	m.session = nil
	m.clearedsession = false
}

// ClearStageExecution clears the "stage_execution" edge to the StageExecution entity.
func (m *LLMInteractionMutation) ClearStageExecution() {
	m.clearedstage_execution = true
	m.clearedFields[llminteraction.FieldStageExecutionID] = struct{}{}
}

// StageExecutionCleared reports if the "stage_execution" edge to the StageExecution entity was cleared.
func (m *LLMInteractionMutation) StageExecutionCleared() bool {
	return m.StageExecutionIDCleared() || m.clearedstage_execution
}

// StageExecutionIDs returns the "stage_execution" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// StageExecutionID instead. It exists only for internal usage by the builders.
func (m *LLMInteractionMutation) StageExecutionIDs() (ids []string) {
	if id := m.stage_execution; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetStageExecution resets all changes to the "stage_execution" edge.
func (m *LLMInteractionMutation) ResetStageExecution() {
	m.stage_execution = nil
	m.clearedstage_execution = false
}

// Where appends a list predicates to the LLMInteractionMutation builder.
func (m *LLMInteractionMutation) Where(ps ...predicate.LLMInteraction) {
	m.predicates = append(m.predicates, ps...)
}

// WhereP appends storage-level predicates to the LLMInteractionMutation builder. Using this method,
// users can use type-assertion to append predicates that do not depend on any generated package.
func (m *LLMInteractionMutation) WhereP(ps ...func(*sql.Selector)) {
	p := make([]predicate.LLMInteraction, len(ps))
	for i := range ps {
		p[i] = ps[i]
	}
	m.Where(p...)
}

// Op returns the operation name.
func (m *LLMInteractionMutation) Op() Op {
	return m.op
}

// SetOp allows setting the mutation operation.
func (m *LLMInteractionMutation) SetOp(op Op) {
	m.op = op
}

// Type returns the node type of this mutation (LLMInteraction).
func (m *LLMInteractionMutation) Type() string {
	return m.typ
}

// Fields returns all fields that were changed during this mutation. Note that in
// order to get all numeric fields that were incremented/decremented, call
// AddedFields().
func (m *LLMInteractionMutation) Fields() []string {
	fields := make([]string, 0, 15)
	if m.session != nil {
		fields = append(fields, llminteraction.FieldSessionID)
	}
	if m.stage_execution != nil {
		fields = append(fields, llminteraction.FieldStageExecutionID)
	}
	if m.request_id != nil {
		fields = append(fields, llminteraction.FieldRequestID)
	}
	if m.provider != nil {
		fields = append(fields, llminteraction.FieldProvider)
	}
	if m.model_name != nil {
		fields = append(fields, llminteraction.FieldModelName)
	}
	if m.conversation != nil {
		fields = append(fields, llminteraction.FieldConversation)
	}
	if m.timestamp_us != nil {
		fields = append(fields, llminteraction.FieldTimestampUs)
	}
	if m.start_time_us != nil {
		fields = append(fields, llminteraction.FieldStartTimeUs)
	}
	if m.end_time_us != nil {
		fields = append(fields, llminteraction.FieldEndTimeUs)
	}
	if m.duration_ms != nil {
		fields = append(fields, llminteraction.FieldDurationMs)
	}
	if m.success != nil {
		fields = append(fields, llminteraction.FieldSuccess)
	}
	if m.error_message != nil {
		fields = append(fields, llminteraction.FieldErrorMessage)
	}
	if m.token_usage != nil {
		fields = append(fields, llminteraction.FieldTokenUsage)
	}
	if m.step_description != nil {
		fields = append(fields, llminteraction.FieldStepDescription)
	}
	if m.interaction_type != nil {
		fields = append(fields, llminteraction.FieldInteractionType)
	}
	return fields
}

// Field returns the value of a field with the given name. The second boolean
// return value indicates that this field was not set, or was not defined in the
// schema.
func (m *LLMInteractionMutation) Field(name string) (ent.Value, bool) {
	switch name {
	case llminteraction.FieldSessionID:
		return m.SessionID()
	case llminteraction.FieldStageExecutionID:
		return m.StageExecutionID()
	case llminteraction.FieldRequestID:
		return m.RequestID()
	case llminteraction.FieldProvider:
		return m.Provider()
	case llminteraction.FieldModelName:
		return m.ModelName()
	case llminteraction.FieldConversation:
		return m.Conversation()
	case llminteraction.FieldTimestampUs:
		return m.TimestampUs()
	case llminteraction.FieldStartTimeUs:
		return m.StartTimeUs()
	case llminteraction.FieldEndTimeUs:
		return m.EndTimeUs()
	case llminteraction.FieldDurationMs:
		return m.DurationMs()
	case llminteraction.FieldSuccess:
		return m.Success()
	case llminteraction.FieldErrorMessage:
		return m.ErrorMessage()
	case llminteraction.FieldTokenUsage:
		return m.TokenUsage()
	case llminteraction.FieldStepDescription:
		return m.StepDescription()
	case llminteraction.FieldInteractionType:
		return m.InteractionType()
	}
	return nil, false
}

// OldField returns the old value of the field from the database. An error is
// returned if the mutation operation is not UpdateOne, or the query to the
// database failed.
func (m *LLMInteractionMutation) OldField(ctx context.Context, name string) (ent.Value, error) {
	switch name {
	case llminteraction.FieldSessionID:
		return m.OldSessionID(ctx)
	case llminteraction.FieldStageExecutionID:
		return m.OldStageExecutionID(ctx)
	case llminteraction.FieldRequestID:
		return m.OldRequestID(ctx)
	case llminteraction.FieldProvider:
		return m.OldProvider(ctx)
	case llminteraction.FieldModelName:
		return m.OldModelName(ctx)
	case llminteraction.FieldConversation:
		return m.OldConversation(ctx)
	case llminteraction.FieldTimestampUs:
		return m.OldTimestampUs(ctx)
	case llminteraction.FieldStartTimeUs:
		return m.OldStartTimeUs(ctx)
	case llminteraction.FieldEndTimeUs:
		return m.OldEndTimeUs(ctx)
	case llminteraction.FieldDurationMs:
		return m.OldDurationMs(ctx)
	case llminteraction.FieldSuccess:
		return m.OldSuccess(ctx)
	case llminteraction.FieldErrorMessage:
		return m.OldErrorMessage(ctx)
	case llminteraction.FieldTokenUsage:
		return m.OldTokenUsage(ctx)
	case llminteraction.FieldStepDescription:
		return m.OldStepDescription(ctx)
	case llminteraction.FieldInteractionType:
		return m.OldInteractionType(ctx)
	}
	return nil, fmt.Errorf("unknown LLMInteraction field %s", name)
}

// SetField sets the value of a field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *LLMInteractionMutation) SetField(name string, value ent.Value) error {
	switch name {
	case llminteraction.FieldSessionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetSessionID(v)
		return nil
	case llminteraction.FieldStageExecutionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageExecutionID(v)
		return nil
	case llminteraction.FieldRequestID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetRequestID(v)
		return nil
	case llminteraction.FieldProvider:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetProvider(v)
		return nil
	case llminteraction.FieldModelName:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetModelName(v)
		return nil
	case llminteraction.FieldConversation:
		v, ok := value.([]models.ConversationMessage)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetConversation(v)
		return nil
	case llminteraction.FieldTimestampUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetTimestampUs(v)
		return nil
	case llminteraction.FieldStartTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStartTimeUs(v)
		return nil
	case llminteraction.FieldEndTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetEndTimeUs(v)
		return nil
	case llminteraction.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetDurationMs(v)
		return nil
	case llminteraction.FieldSuccess:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetSuccess(v)
		return nil
	case llminteraction.FieldErrorMessage:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetErrorMessage(v)
		return nil
	case llminteraction.FieldTokenUsage:
		v, ok := value.(*models.TokenUsage)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetTokenUsage(v)
		return nil
	case llminteraction.FieldStepDescription:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStepDescription(v)
		return nil
	case llminteraction.FieldInteractionType:
		v, ok := value.(llminteraction.InteractionType)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetInteractionType(v)
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction field %s", name)
}

// AddedFields returns all numeric fields that were incremented/decremented during
// this mutation.
func (m *LLMInteractionMutation) AddedFields() []string {
	var fields []string
	if m.addtimestamp_us != nil {
		fields = append(fields, llminteraction.FieldTimestampUs)
	}
	if m.addstart_time_us != nil {
		fields = append(fields, llminteraction.FieldStartTimeUs)
	}
	if m.addend_time_us != nil {
		fields = append(fields, llminteraction.FieldEndTimeUs)
	}
	if m.addduration_ms != nil {
		fields = append(fields, llminteraction.FieldDurationMs)
	}
	return fields
}

// AddedField returns the numeric value that was incremented/decremented on a field
// with the given name. The second boolean return value indicates that this field
// was not set, or was not defined in the schema.
func (m *LLMInteractionMutation) AddedField(name string) (ent.Value, bool) {
	switch name {
	case llminteraction.FieldTimestampUs:
		return m.AddedTimestampUs()
	case llminteraction.FieldStartTimeUs:
		return m.AddedStartTimeUs()
	case llminteraction.FieldEndTimeUs:
		return m.AddedEndTimeUs()
	case llminteraction.FieldDurationMs:
		return m.AddedDurationMs()
	}
	return nil, false
}

// AddField adds the value to the field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *LLMInteractionMutation) AddField(name string, value ent.Value) error {
	switch name {
	case llminteraction.FieldTimestampUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddTimestampUs(v)
		return nil
	case llminteraction.FieldStartTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddStartTimeUs(v)
		return nil
	case llminteraction.FieldEndTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddEndTimeUs(v)
		return nil
	case llminteraction.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddDurationMs(v)
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction numeric field %s", name)
}

// ClearedFields returns all nullable fields that were cleared during this
// mutation.
func (m *LLMInteractionMutation) ClearedFields() []string {
	var fields []string
	if m.FieldCleared(llminteraction.FieldStageExecutionID) {
		fields = append(fields, llminteraction.FieldStageExecutionID)
	}
	if m.FieldCleared(llminteraction.FieldEndTimeUs) {
		fields = append(fields, llminteraction.FieldEndTimeUs)
	}
	if m.FieldCleared(llminteraction.FieldDurationMs) {
		fields = append(fields, llminteraction.FieldDurationMs)
	}
	if m.FieldCleared(llminteraction.FieldErrorMessage) {
		fields = append(fields, llminteraction.FieldErrorMessage)
	}
	if m.FieldCleared(llminteraction.FieldTokenUsage) {
		fields = append(fields, llminteraction.FieldTokenUsage)
	}
	if m.FieldCleared(llminteraction.FieldStepDescription) {
		fields = append(fields, llminteraction.FieldStepDescription)
	}
	return fields
}

// FieldCleared returns a boolean indicating if a field with the given name was
// cleared in this mutation.
func (m *LLMInteractionMutation) FieldCleared(name string) bool {
	_, ok := m.clearedFields[name]
	return ok
}

// ClearField clears the value of the field with the given name. It returns an
// error if the field is not defined in the schema.
func (m *LLMInteractionMutation) ClearField(name string) error {
	switch name {
	case llminteraction.FieldStageExecutionID:
		m.ClearStageExecutionID()
		return nil
	case llminteraction.FieldEndTimeUs:
		m.ClearEndTimeUs()
		return nil
	case llminteraction.FieldDurationMs:
		m.ClearDurationMs()
		return nil
	case llminteraction.FieldErrorMessage:
		m.ClearErrorMessage()
		return nil
	case llminteraction.FieldTokenUsage:
		m.ClearTokenUsage()
		return nil
	case llminteraction.FieldStepDescription:
		m.ClearStepDescription()
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction nullable field %s", name)
}

// ResetField resets all changes in the mutation for the field with the given name.
// It returns an error if the field is not defined in the schema.
func (m *LLMInteractionMutation) ResetField(name string) error {
	switch name {
	case llminteraction.FieldSessionID:
		m.ResetSessionID()
		return nil
	case llminteraction.FieldStageExecutionID:
		m.ResetStageExecutionID()
		return nil
	case llminteraction.FieldRequestID:
		m.ResetRequestID()
		return nil
	case llminteraction.FieldProvider:
		m.ResetProvider()
		return nil
	case llminteraction.FieldModelName:
		m.ResetModelName()
		return nil
	case llminteraction.FieldConversation:
		m.ResetConversation()
		return nil
	case llminteraction.FieldTimestampUs:
		m.ResetTimestampUs()
		return nil
	case llminteraction.FieldStartTimeUs:
		m.ResetStartTimeUs()
		return nil
	case llminteraction.FieldEndTimeUs:
		m.ResetEndTimeUs()
		return nil
	case llminteraction.FieldDurationMs:
		m.ResetDurationMs()
		return nil
	case llminteraction.FieldSuccess:
		m.ResetSuccess()
		return nil
	case llminteraction.FieldErrorMessage:
		m.ResetErrorMessage()
		return nil
	case llminteraction.FieldTokenUsage:
		m.ResetTokenUsage()
		return nil
	case llminteraction.FieldStepDescription:
		m.ResetStepDescription()
		return nil
	case llminteraction.FieldInteractionType:
		m.ResetInteractionType()
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction field %s", name)
}

// AddedEdges returns all edge names that were set/added in this mutation.
func (m *LLMInteractionMutation) AddedEdges() []string {
	edges := make([]string, 0, 2)
	if m.session != nil {
		edges = append(edges, llminteraction.EdgeSession)
	}
	if m.stage_execution != nil {
		edges = append(edges, llminteraction.EdgeStageExecution)
	}
	return edges
}

// AddedIDs returns all IDs (to other nodes) that were added for the given edge
// name in this mutation.
func (m *LLMInteractionMutation) AddedIDs(name string) []ent.Value {
	switch name {
	case llminteraction.EdgeSession:
		if id := m.session; id != nil {
			return []ent.Value{*id}
		}
	case llminteraction.EdgeStageExecution:
		if id := m.stage_execution; id != nil {
			return []ent.Value{*id}
		}
	}
	return nil
}

// RemovedEdges returns all edge names that were removed in this mutation.
func (m *LLMInteractionMutation) RemovedEdges() []string {
	edges := make([]string, 0, 2)
	return edges
}

// RemovedIDs returns all IDs (to other nodes) that were removed for the edge with
// the given name in this mutation.
func (m *LLMInteractionMutation) RemovedIDs(name string) []ent.Value {
	return nil
}

// ClearedEdges returns all edge names that were cleared in this mutation.
func (m *LLMInteractionMutation) ClearedEdges() []string {
	edges := make([]string, 0, 2)
	if m.clearedsession {
		edges = append(edges, llminteraction.EdgeSession)
	}
	if m.clearedstage_execution {
		edges = append(edges, llminteraction.EdgeStageExecution)
	}
	return edges
}

// EdgeCleared returns a boolean which indicates if the edge with the given name
// was cleared in this mutation.
func (m *LLMInteractionMutation) EdgeCleared(name string) bool {
	switch name {
	case llminteraction.EdgeSession:
		return m.clearedsession
	case llminteraction.EdgeStageExecution:
		return m.clearedstage_execution
	}
	return false
}

// ClearEdge clears the value of the edge with the given name. It returns an error
// if that edge is not defined in the schema.
func (m *LLMInteractionMutation) ClearEdge(name string) error {
	switch name {
	case llminteraction.EdgeSession:
		m.ClearSession()
		return nil
	case llminteraction.EdgeStageExecution:
		m.ClearStageExecution()
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction unique edge %s", name)
}

// ResetEdge resets all changes to the edge with the given name in this mutation.
// It returns an error if the edge is not defined in the schema.
func (m *LLMInteractionMutation) ResetEdge(name string) error {
	switch name {
	case llminteraction.EdgeSession:
		m.ResetSession()
		return nil
	case llminteraction.EdgeStageExecution:
		m.ResetStageExecution()
		return nil
	}
	return fmt.Errorf("unknown LLMInteraction edge %s", name)
}

// MCPInteractionMutation represents an operation that mutates the MCPInteraction nodes in the graph.
type MCPInteractionMutation struct {
	config
	op                     Op
	typ                    string
	id                     *string
	request_id             *string
	server_name            *string
	communication_type     *mcpinteraction.CommunicationType
	tool_name              *string
	tool_arguments         *map[string]interface{}
	tool_result            *map[string]interface{}
	available_tools        *[]models.MCPToolInfo
	appendavailable_tools  []models.MCPToolInfo
	timestamp_us           *int64
	addtimestamp_us        *int64
	start_time_us          *int64
	addstart_time_us       *int64
	end_time_us            *int64
	addend_time_us         *int64
	duration_ms            *int
	addduration_ms         *int
	success                *bool
	error_message          *string
	step_description       *string
	clearedFields          map[string]struct{}
	session                *string
	clearedsession         bool
	stage_execution        *string
	clearedstage_execution bool
	done                   bool
	oldValue               func(context.Context) (*MCPInteraction, error)
	predicates             []predicate.MCPInteraction
}

var _ ent.Mutation = (*MCPInteractionMutation)(nil)

// mcpinteractionOption allows management of the mutation configuration using functional options.
type mcpinteractionOption func(*MCPInteractionMutation)

// newMCPInteractionMutation creates new mutation for the MCPInteraction entity.
func newMCPInteractionMutation(c config, op Op, opts ...mcpinteractionOption) *MCPInteractionMutation {
	m := &MCPInteractionMutation{
		config:        c,
		op:            op,
		typ:           TypeMCPInteraction,
		clearedFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withMCPInteractionID sets the ID field of the mutation.
func withMCPInteractionID(id string) mcpinteractionOption {
	return func(m *MCPInteractionMutation) {
		var (
			err   error
			once  sync.Once
			value *MCPInteraction
		)
		m.oldValue = func(ctx context.Context) (*MCPInteraction, error) {
			once.Do(func() {
				if m.done {
					err = errors.New("querying old values post mutation is not allowed")
				} else {
					value, err = m.Client().MCPInteraction.Get(ctx, id)
				}
			})
			return value, err
		}
		m.id = &id
	}
}

// withMCPInteraction sets the old MCPInteraction of the mutation.
func withMCPInteraction(node *MCPInteraction) mcpinteractionOption {
	return func(m *MCPInteractionMutation) {
		m.oldValue = func(context.Context) (*MCPInteraction, error) {
			return node, nil
		}
		m.id = &node.ID
	}
}

// Client returns a new `ent.Client` from the mutation. If the mutation was
// executed in a transaction (ent.Tx), a transactional client is returned.
func (m MCPInteractionMutation) Client() *Client {
	client := &Client{config: m.config}
	client.init()
	return client
}

// Tx returns an `ent.Tx` for mutations that were executed in transactions;
// it returns an error otherwise.
func (m MCPInteractionMutation) Tx() (*Tx, error) {
	if _, ok := m.driver.(*txDriver); !ok {
		return nil, errors.New("ent: mutation is not running in a transaction")
	}
	tx := &Tx{config: m.config}
	tx.init()
	return tx, nil
}

// SetID sets the value of the id field. Note that this
// operation is only accepted on creation of MCPInteraction entities.
func (m *MCPInteractionMutation) SetID(id string) {
	m.id = &id
}

// ID returns the ID value in the mutation. Note that the ID is only available
// if it was provided to the builder or after it was returned from the database.
func (m *MCPInteractionMutation) ID() (id string, exists bool) {
	if m.id == nil {
		return
	}
	return *m.id, true
}

// IDs queries the database and returns the entity ids that match the mutation's predicate.
// That means, if the mutation is applied within a transaction with an isolation level such
// as sql.LevelSerializable, the returned ids match the ids of the rows that will be updated
// or updated by the mutation.
func (m *MCPInteractionMutation) IDs(ctx context.Context) ([]string, error) {
	switch {
	case m.op.Is(OpUpdateOne | OpDeleteOne):
		id, exists := m.ID()
		if exists {
			return []string{id}, nil
		}
		fallthrough
	case m.op.Is(OpUpdate | OpDelete):
		return m.Client().MCPInteraction.Query().Where(m.predicates...).IDs(ctx)
	default:
		return nil, fmt.Errorf("IDs is not allowed on %s operations", m.op)
	}
}

// SetSessionID sets the "session_id" field.
func (m *MCPInteractionMutation) SetSessionID(s string) {
	m.session = &s
}

// SessionID returns the value of the "session_id" field in the mutation.
func (m *MCPInteractionMutation) SessionID() (r string, exists bool) {
	v := m.session
	if v == nil {
		return
	}
	return *v, true
}

// OldSessionID returns the old "session_id" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldSessionID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldSessionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldSessionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldSessionID: %w", err)
	}
	return oldValue.SessionID, nil
}

// ResetSessionID resets all changes to the "session_id" field.
func (m *MCPInteractionMutation) ResetSessionID() {
	m.session = nil
}

// SetStageExecutionID sets the "stage_execution_id" field.
func (m *MCPInteractionMutation) SetStageExecutionID(s string) {
	m.stage_execution = &s
}

// StageExecutionID returns the value of the "stage_execution_id" field in the mutation.
func (m *MCPInteractionMutation) StageExecutionID() (r string, exists bool) {
	v := m.stage_execution
	if v == nil {
		return
	}
	return *v, true
}

// OldStageExecutionID returns the old "stage_execution_id" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldStageExecutionID(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageExecutionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageExecutionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageExecutionID: %w", err)
	}
	return oldValue.StageExecutionID, nil
}

// ClearStageExecutionID clears the value of the "stage_execution_id" field.
func (m *MCPInteractionMutation) ClearStageExecutionID() {
	m.stage_execution = nil
	m.clearedFields[mcpinteraction.FieldStageExecutionID] = struct{}{}
}

// StageExecutionIDCleared returns if the "stage_execution_id" field was cleared in this mutation.
func (m *MCPInteractionMutation) StageExecutionIDCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldStageExecutionID]
	return ok
}

// ResetStageExecutionID resets all changes to the "stage_execution_id" field.
func (m *MCPInteractionMutation) ResetStageExecutionID() {
	m.stage_execution = nil
	delete(m.clearedFields, mcpinteraction.FieldStageExecutionID)
}

// SetRequestID sets the "request_id" field.
func (m *MCPInteractionMutation) SetRequestID(s string) {
	m.request_id = &s
}

// RequestID returns the value of the "request_id" field in the mutation.
func (m *MCPInteractionMutation) RequestID() (r string, exists bool) {
	v := m.request_id
	if v == nil {
		return
	}
	return *v, true
}

// OldRequestID returns the old "request_id" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldRequestID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldRequestID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldRequestID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldRequestID: %w", err)
	}
	return oldValue.RequestID, nil
}

// ResetRequestID resets all changes to the "request_id" field.
func (m *MCPInteractionMutation) ResetRequestID() {
	m.request_id = nil
}

// SetServerName sets the "server_name" field.
func (m *MCPInteractionMutation) SetServerName(s string) {
	m.server_name = &s
}

// ServerName returns the value of the "server_name" field in the mutation.
func (m *MCPInteractionMutation) ServerName() (r string, exists bool) {
	v := m.server_name
	if v == nil {
		return
	}
	return *v, true
}

// OldServerName returns the old "server_name" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldServerName(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldServerName is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldServerName requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldServerName: %w", err)
	}
	return oldValue.ServerName, nil
}

// ResetServerName resets all changes to the "server_name" field.
func (m *MCPInteractionMutation) ResetServerName() {
	m.server_name = nil
}

// SetCommunicationType sets the "communication_type" field.
func (m *MCPInteractionMutation) SetCommunicationType(mt mcpinteraction.CommunicationType) {
	m.communication_type = &mt
}

// CommunicationType returns the value of the "communication_type" field in the mutation.
func (m *MCPInteractionMutation) CommunicationType() (r mcpinteraction.CommunicationType, exists bool) {
	v := m.communication_type
	if v == nil {
		return
	}
	return *v, true
}

// OldCommunicationType returns the old "communication_type" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldCommunicationType(ctx context.Context) (v mcpinteraction.CommunicationType, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldCommunicationType is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldCommunicationType requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldCommunicationType: %w", err)
	}
	return oldValue.CommunicationType, nil
}

// ResetCommunicationType resets all changes to the "communication_type" field.
func (m *MCPInteractionMutation) ResetCommunicationType() {
	m.communication_type = nil
}

// SetToolName sets the "tool_name" field.
func (m *MCPInteractionMutation) SetToolName(s string) {
	m.tool_name = &s
}

// ToolName returns the value of the "tool_name" field in the mutation.
func (m *MCPInteractionMutation) ToolName() (r string, exists bool) {
	v := m.tool_name
	if v == nil {
		return
	}
	return *v, true
}

// OldToolName returns the old "tool_name" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldToolName(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldToolName is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldToolName requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldToolName: %w", err)
	}
	return oldValue.ToolName, nil
}

// ClearToolName clears the value of the "tool_name" field.
func (m *MCPInteractionMutation) ClearToolName() {
	m.tool_name = nil
	m.clearedFields[mcpinteraction.FieldToolName] = struct{}{}
}

// ToolNameCleared returns if the "tool_name" field was cleared in this mutation.
func (m *MCPInteractionMutation) ToolNameCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldToolName]
	return ok
}

// ResetToolName resets all changes to the "tool_name" field.
func (m *MCPInteractionMutation) ResetToolName() {
	m.tool_name = nil
	delete(m.clearedFields, mcpinteraction.FieldToolName)
}

// SetToolArguments sets the "tool_arguments" field.
func (m *MCPInteractionMutation) SetToolArguments(value map[string]interface{}) {
	m.tool_arguments = &value
}

// ToolArguments returns the value of the "tool_arguments" field in the mutation.
func (m *MCPInteractionMutation) ToolArguments() (r map[string]interface{}, exists bool) {
	v := m.tool_arguments
	if v == nil {
		return
	}
	return *v, true
}

// OldToolArguments returns the old "tool_arguments" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldToolArguments(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldToolArguments is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldToolArguments requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldToolArguments: %w", err)
	}
	return oldValue.ToolArguments, nil
}

// ClearToolArguments clears the value of the "tool_arguments" field.
func (m *MCPInteractionMutation) ClearToolArguments() {
	m.tool_arguments = nil
	m.clearedFields[mcpinteraction.FieldToolArguments] = struct{}{}
}

// ToolArgumentsCleared returns if the "tool_arguments" field was cleared in this mutation.
func (m *MCPInteractionMutation) ToolArgumentsCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldToolArguments]
	return ok
}

// ResetToolArguments resets all changes to the "tool_arguments" field.
func (m *MCPInteractionMutation) ResetToolArguments() {
	m.tool_arguments = nil
	delete(m.clearedFields, mcpinteraction.FieldToolArguments)
}

// SetToolResult sets the "tool_result" field.
func (m *MCPInteractionMutation) SetToolResult(value map[string]interface{}) {
	m.tool_result = &value
}

// ToolResult returns the value of the "tool_result" field in the mutation.
func (m *MCPInteractionMutation) ToolResult() (r map[string]interface{}, exists bool) {
	v := m.tool_result
	if v == nil {
		return
	}
	return *v, true
}

// OldToolResult returns the old "tool_result" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldToolResult(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldToolResult is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldToolResult requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldToolResult: %w", err)
	}
	return oldValue.ToolResult, nil
}

// ClearToolResult clears the value of the "tool_result" field.
func (m *MCPInteractionMutation) ClearToolResult() {
	m.tool_result = nil
	m.clearedFields[mcpinteraction.FieldToolResult] = struct{}{}
}

// ToolResultCleared returns if the "tool_result" field was cleared in this mutation.
func (m *MCPInteractionMutation) ToolResultCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldToolResult]
	return ok
}

// ResetToolResult resets all changes to the "tool_result" field.
func (m *MCPInteractionMutation) ResetToolResult() {
	m.tool_result = nil
	delete(m.clearedFields, mcpinteraction.FieldToolResult)
}

// SetAvailableTools sets the "available_tools" field.
func (m *MCPInteractionMutation) SetAvailableTools(mti []models.MCPToolInfo) {
	m.available_tools = &mti
	m.appendavailable_tools = nil
}

// AvailableTools returns the value of the "available_tools" field in the mutation.
func (m *MCPInteractionMutation) AvailableTools() (r []models.MCPToolInfo, exists bool) {
	v := m.available_tools
	if v == nil {
		return
	}
	return *v, true
}

// OldAvailableTools returns the old "available_tools" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldAvailableTools(ctx context.Context) (v []models.MCPToolInfo, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAvailableTools is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAvailableTools requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAvailableTools: %w", err)
	}
	return oldValue.AvailableTools, nil
}

// AppendAvailableTools adds mti to the "available_tools" field.
func (m *MCPInteractionMutation) AppendAvailableTools(mti []models.MCPToolInfo) {
	m.appendavailable_tools = append(m.appendavailable_tools, mti...)
}

// AppendedAvailableTools returns the list of values that were appended to the "available_tools" field in this mutation.
func (m *MCPInteractionMutation) AppendedAvailableTools() ([]models.MCPToolInfo, bool) {
	if len(m.appendavailable_tools) == 0 {
		return nil, false
	}
	return m.appendavailable_tools, true
}

// ClearAvailableTools clears the value of the "available_tools" field.
func (m *MCPInteractionMutation) ClearAvailableTools() {
	m.available_tools = nil
	m.appendavailable_tools = nil
	m.clearedFields[mcpinteraction.FieldAvailableTools] = struct{}{}
}

// AvailableToolsCleared returns if the "available_tools" field was cleared in this mutation.
func (m *MCPInteractionMutation) AvailableToolsCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldAvailableTools]
	return ok
}

// ResetAvailableTools resets all changes to the "available_tools" field.
func (m *MCPInteractionMutation) ResetAvailableTools() {
	m.available_tools = nil
	m.appendavailable_tools = nil
	delete(m.clearedFields, mcpinteraction.FieldAvailableTools)
}

// SetTimestampUs sets the "timestamp_us" field.
func (m *MCPInteractionMutation) SetTimestampUs(i int64) {
	m.timestamp_us = &i
	m.addtimestamp_us = nil
}

// TimestampUs returns the value of the "timestamp_us" field in the mutation.
func (m *MCPInteractionMutation) TimestampUs() (r int64, exists bool) {
	v := m.timestamp_us
	if v == nil {
		return
	}
	return *v, true
}

// OldTimestampUs returns the old "timestamp_us" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldTimestampUs(ctx context.Context) (v int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldTimestampUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldTimestampUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldTimestampUs: %w", err)
	}
	return oldValue.TimestampUs, nil
}

// AddTimestampUs adds i to the "timestamp_us" field.
func (m *MCPInteractionMutation) AddTimestampUs(i int64) {
	if m.addtimestamp_us != nil {
		*m.addtimestamp_us += i
	} else {
		m.addtimestamp_us = &i
	}
}

// AddedTimestampUs returns the value that was added to the "timestamp_us" field in this mutation.
func (m *MCPInteractionMutation) AddedTimestampUs() (r int64, exists bool) {
	v := m.addtimestamp_us
	if v == nil {
		return
	}
	return *v, true
}

// ResetTimestampUs resets all changes to the "timestamp_us" field.
func (m *MCPInteractionMutation) ResetTimestampUs() {
	m.timestamp_us = nil
	m.addtimestamp_us = nil
}

// SetStartTimeUs sets the "start_time_us" field.
func (m *MCPInteractionMutation) SetStartTimeUs(i int64) {
	m.start_time_us = &i
	m.addstart_time_us = nil
}

// StartTimeUs returns the value of the "start_time_us" field in the mutation.
func (m *MCPInteractionMutation) StartTimeUs() (r int64, exists bool) {
	v := m.start_time_us
	if v == nil {
		return
	}
	return *v, true
}

// OldStartTimeUs returns the old "start_time_us" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldStartTimeUs(ctx context.Context) (v int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStartTimeUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStartTimeUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStartTimeUs: %w", err)
	}
	return oldValue.StartTimeUs, nil
}

// AddStartTimeUs adds i to the "start_time_us" field.
func (m *MCPInteractionMutation) AddStartTimeUs(i int64) {
	if m.addstart_time_us != nil {
		*m.addstart_time_us += i
	} else {
		m.addstart_time_us = &i
	}
}

// AddedStartTimeUs returns the value that was added to the "start_time_us" field in this mutation.
func (m *MCPInteractionMutation) AddedStartTimeUs() (r int64, exists bool) {
	v := m.addstart_time_us
	if v == nil {
		return
	}
	return *v, true
}

// ResetStartTimeUs resets all changes to the "start_time_us" field.
func (m *MCPInteractionMutation) ResetStartTimeUs() {
	m.start_time_us = nil
	m.addstart_time_us = nil
}

// SetEndTimeUs sets the "end_time_us" field.
func (m *MCPInteractionMutation) SetEndTimeUs(i int64) {
	m.end_time_us = &i
	m.addend_time_us = nil
}

// EndTimeUs returns the value of the "end_time_us" field in the mutation.
func (m *MCPInteractionMutation) EndTimeUs() (r int64, exists bool) {
	v := m.end_time_us
	if v == nil {
		return
	}
	return *v, true
}

// OldEndTimeUs returns the old "end_time_us" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldEndTimeUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldEndTimeUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldEndTimeUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldEndTimeUs: %w", err)
	}
	return oldValue.EndTimeUs, nil
}

// AddEndTimeUs adds i to the "end_time_us" field.
func (m *MCPInteractionMutation) AddEndTimeUs(i int64) {
	if m.addend_time_us != nil {
		*m.addend_time_us += i
	} else {
		m.addend_time_us = &i
	}
}

// AddedEndTimeUs returns the value that was added to the "end_time_us" field in this mutation.
func (m *MCPInteractionMutation) AddedEndTimeUs() (r int64, exists bool) {
	v := m.addend_time_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearEndTimeUs clears the value of the "end_time_us" field.
func (m *MCPInteractionMutation) ClearEndTimeUs() {
	m.end_time_us = nil
	m.addend_time_us = nil
	m.clearedFields[mcpinteraction.FieldEndTimeUs] = struct{}{}
}

// EndTimeUsCleared returns if the "end_time_us" field was cleared in this mutation.
func (m *MCPInteractionMutation) EndTimeUsCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldEndTimeUs]
	return ok
}

// ResetEndTimeUs resets all changes to the "end_time_us" field.
func (m *MCPInteractionMutation) ResetEndTimeUs() {
	m.end_time_us = nil
	m.addend_time_us = nil
	delete(m.clearedFields, mcpinteraction.FieldEndTimeUs)
}

// SetDurationMs sets the "duration_ms" field.
func (m *MCPInteractionMutation) SetDurationMs(i int) {
	m.duration_ms = &i
	m.addduration_ms = nil
}

// DurationMs returns the value of the "duration_ms" field in the mutation.
func (m *MCPInteractionMutation) DurationMs() (r int, exists bool) {
	v := m.duration_ms
	if v == nil {
		return
	}
	return *v, true
}

// OldDurationMs returns the old "duration_ms" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldDurationMs(ctx context.Context) (v *int, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldDurationMs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldDurationMs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldDurationMs: %w", err)
	}
	return oldValue.DurationMs, nil
}

// AddDurationMs adds i to the "duration_ms" field.
func (m *MCPInteractionMutation) AddDurationMs(i int) {
	if m.addduration_ms != nil {
		*m.addduration_ms += i
	} else {
		m.addduration_ms = &i
	}
}

// AddedDurationMs returns the value that was added to the "duration_ms" field in this mutation.
func (m *MCPInteractionMutation) AddedDurationMs() (r int, exists bool) {
	v := m.addduration_ms
	if v == nil {
		return
	}
	return *v, true
}

// ClearDurationMs clears the value of the "duration_ms" field.
func (m *MCPInteractionMutation) ClearDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	m.clearedFields[mcpinteraction.FieldDurationMs] = struct{}{}
}

// DurationMsCleared returns if the "duration_ms" field was cleared in this mutation.
func (m *MCPInteractionMutation) DurationMsCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldDurationMs]
	return ok
}

// ResetDurationMs resets all changes to the "duration_ms" field.
func (m *MCPInteractionMutation) ResetDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	delete(m.clearedFields, mcpinteraction.FieldDurationMs)
}

// SetSuccess sets the "success" field.
func (m *MCPInteractionMutation) SetSuccess(b bool) {
	m.success = &b
}

// Success returns the value of the "success" field in the mutation.
func (m *MCPInteractionMutation) Success() (r bool, exists bool) {
	v := m.success
	if v == nil {
		return
	}
	return *v, true
}

// OldSuccess returns the old "success" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldSuccess(ctx context.Context) (v bool, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldSuccess is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldSuccess requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldSuccess: %w", err)
	}
	return oldValue.Success, nil
}

// ResetSuccess resets all changes to the "success" field.
func (m *MCPInteractionMutation) ResetSuccess() {
	m.success = nil
}

// SetErrorMessage sets the "error_message" field.
func (m *MCPInteractionMutation) SetErrorMessage(s string) {
	m.error_message = &s
}

// ErrorMessage returns the value of the "error_message" field in the mutation.
func (m *MCPInteractionMutation) ErrorMessage() (r string, exists bool) {
	v := m.error_message
	if v == nil {
		return
	}
	return *v, true
}

// OldErrorMessage returns the old "error_message" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldErrorMessage(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldErrorMessage is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldErrorMessage requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldErrorMessage: %w", err)
	}
	return oldValue.ErrorMessage, nil
}

// ClearErrorMessage clears the value of the "error_message" field.
func (m *MCPInteractionMutation) ClearErrorMessage() {
	m.error_message = nil
	m.clearedFields[mcpinteraction.FieldErrorMessage] = struct{}{}
}

// ErrorMessageCleared returns if the "error_message" field was cleared in this mutation.
func (m *MCPInteractionMutation) ErrorMessageCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldErrorMessage]
	return ok
}

// ResetErrorMessage resets all changes to the "error_message" field.
func (m *MCPInteractionMutation) ResetErrorMessage() {
	m.error_message = nil
	delete(m.clearedFields, mcpinteraction.FieldErrorMessage)
}

// SetStepDescription sets the "step_description" field.
func (m *MCPInteractionMutation) SetStepDescription(s string) {
	m.step_description = &s
}

// StepDescription returns the value of the "step_description" field in the mutation.
func (m *MCPInteractionMutation) StepDescription() (r string, exists bool) {
	v := m.step_description
	if v == nil {
		return
	}
	return *v, true
}

// OldStepDescription returns the old "step_description" field's value of the MCPInteraction entity.
// If the MCPInteraction object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *MCPInteractionMutation) OldStepDescription(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStepDescription is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStepDescription requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStepDescription: %w", err)
	}
	return oldValue.StepDescription, nil
}

// ClearStepDescription clears the value of the "step_description" field.
func (m *MCPInteractionMutation) ClearStepDescription() {
	m.step_description = nil
	m.clearedFields[mcpinteraction.FieldStepDescription] = struct{}{}
}

// StepDescriptionCleared returns if the "step_description" field was cleared in this mutation.
func (m *MCPInteractionMutation) StepDescriptionCleared() bool {
	_, ok := m.clearedFields[mcpinteraction.FieldStepDescription]
	return ok
}

// ResetStepDescription resets all changes to the "step_description" field.
func (m *MCPInteractionMutation) ResetStepDescription() {
	m.step_description = nil
	delete(m.clearedFields, mcpinteraction.FieldStepDescription)
}

// ClearSession clears the "session" edge to the AlertSession entity.
func (m *MCPInteractionMutation) ClearSession() {
	m.clearedsession = true
	m.clearedFields[mcpinteraction.FieldSessionID] = struct{}{}
}

// SessionCleared reports if the "session" edge to the AlertSession entity was cleared.
func (m *MCPInteractionMutation) SessionCleared() bool {
	return m.clearedsession
}

// SessionIDs returns the "session" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// SessionID instead. It exists only for internal usage by the builders.
func (m *MCPInteractionMutation) SessionIDs() (ids []string) {
	if id := m.session; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetSession resets all changes to the "session" edge.
func (m *MCPInteractionMutation) ResetSession() {
	m.session = nil
	m.clearedsession = false
}

// ClearStageExecution clears the "stage_execution" edge to the StageExecution entity.
func (m *MCPInteractionMutation) ClearStageExecution() {
	m.clearedstage_execution = true
	m.clearedFields[mcpinteraction.FieldStageExecutionID] = struct{}{}
}

// StageExecutionCleared reports if the "stage_execution" edge to the StageExecution entity was cleared.
func (m *MCPInteractionMutation) StageExecutionCleared() bool {
	return m.StageExecutionIDCleared() || m.clearedstage_execution
}

// StageExecutionIDs returns the "stage_execution" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// StageExecutionID instead. It exists only for internal usage by the builders.
func (m *MCPInteractionMutation) StageExecutionIDs() (ids []string) {
	if id := m.stage_execution; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetStageExecution resets all changes to the "stage_execution" edge.
func (m *MCPInteractionMutation) ResetStageExecution() {
	m.stage_execution = nil
	m.clearedstage_execution = false
}

// Where appends a list predicates to the MCPInteractionMutation builder.
func (m *MCPInteractionMutation) Where(ps ...predicate.MCPInteraction) {
	m.predicates = append(m.predicates, ps...)
}

// WhereP appends storage-level predicates to the MCPInteractionMutation builder. Using this method,
// users can use type-assertion to append predicates that do not depend on any generated package.
func (m *MCPInteractionMutation) WhereP(ps ...func(*sql.Selector)) {
	p := make([]predicate.MCPInteraction, len(ps))
	for i := range ps {
		p[i] = ps[i]
	}
	m.Where(p...)
}

// Op returns the operation name.
func (m *MCPInteractionMutation) Op() Op {
	return m.op
}

// SetOp allows setting the mutation operation.
func (m *MCPInteractionMutation) SetOp(op Op) {
	m.op = op
}

// Type returns the node type of this mutation (MCPInteraction).
func (m *MCPInteractionMutation) Type() string {
	return m.typ
}

// Fields returns all fields that were changed during this mutation. Note that in
// order to get all numeric fields that were incremented/decremented, call
// AddedFields().
func (m *MCPInteractionMutation) Fields() []string {
	fields := make([]string, 0, 16)
	if m.session != nil {
		fields = append(fields, mcpinteraction.FieldSessionID)
	}
	if m.stage_execution != nil {
		fields = append(fields, mcpinteraction.FieldStageExecutionID)
	}
	if m.request_id != nil {
		fields = append(fields, mcpinteraction.FieldRequestID)
	}
	if m.server_name != nil {
		fields = append(fields, mcpinteraction.FieldServerName)
	}
	if m.communication_type != nil {
		fields = append(fields, mcpinteraction.FieldCommunicationType)
	}
	if m.tool_name != nil {
		fields = append(fields, mcpinteraction.FieldToolName)
	}
	if m.tool_arguments != nil {
		fields = append(fields, mcpinteraction.FieldToolArguments)
	}
	if m.tool_result != nil {
		fields = append(fields, mcpinteraction.FieldToolResult)
	}
	if m.available_tools != nil {
		fields = append(fields, mcpinteraction.FieldAvailableTools)
	}
	if m.timestamp_us != nil {
		fields = append(fields, mcpinteraction.FieldTimestampUs)
	}
	if m.start_time_us != nil {
		fields = append(fields, mcpinteraction.FieldStartTimeUs)
	}
	if m.end_time_us != nil {
		fields = append(fields, mcpinteraction.FieldEndTimeUs)
	}
	if m.duration_ms != nil {
		fields = append(fields, mcpinteraction.FieldDurationMs)
	}
	if m.success != nil {
		fields = append(fields, mcpinteraction.FieldSuccess)
	}
	if m.error_message != nil {
		fields = append(fields, mcpinteraction.FieldErrorMessage)
	}
	if m.step_description != nil {
		fields = append(fields, mcpinteraction.FieldStepDescription)
	}
	return fields
}

// Field returns the value of a field with the given name. The second boolean
// return value indicates that this field was not set, or was not defined in the
// schema.
func (m *MCPInteractionMutation) Field(name string) (ent.Value, bool) {
	switch name {
	case mcpinteraction.FieldSessionID:
		return m.SessionID()
	case mcpinteraction.FieldStageExecutionID:
		return m.StageExecutionID()
	case mcpinteraction.FieldRequestID:
		return m.RequestID()
	case mcpinteraction.FieldServerName:
		return m.ServerName()
	case mcpinteraction.FieldCommunicationType:
		return m.CommunicationType()
	case mcpinteraction.FieldToolName:
		return m.ToolName()
	case mcpinteraction.FieldToolArguments:
		return m.ToolArguments()
	case mcpinteraction.FieldToolResult:
		return m.ToolResult()
	case mcpinteraction.FieldAvailableTools:
		return m.AvailableTools()
	case mcpinteraction.FieldTimestampUs:
		return m.TimestampUs()
	case mcpinteraction.FieldStartTimeUs:
		return m.StartTimeUs()
	case mcpinteraction.FieldEndTimeUs:
		return m.EndTimeUs()
	case mcpinteraction.FieldDurationMs:
		return m.DurationMs()
	case mcpinteraction.FieldSuccess:
		return m.Success()
	case mcpinteraction.FieldErrorMessage:
		return m.ErrorMessage()
	case mcpinteraction.FieldStepDescription:
		return m.StepDescription()
	}
	return nil, false
}

// OldField returns the old value of the field from the database. An error is
// returned if the mutation operation is not UpdateOne, or the query to the
// database failed.
func (m *MCPInteractionMutation) OldField(ctx context.Context, name string) (ent.Value, error) {
	switch name {
	case mcpinteraction.FieldSessionID:
		return m.OldSessionID(ctx)
	case mcpinteraction.FieldStageExecutionID:
		return m.OldStageExecutionID(ctx)
	case mcpinteraction.FieldRequestID:
		return m.OldRequestID(ctx)
	case mcpinteraction.FieldServerName:
		return m.OldServerName(ctx)
	case mcpinteraction.FieldCommunicationType:
		return m.OldCommunicationType(ctx)
	case mcpinteraction.FieldToolName:
		return m.OldToolName(ctx)
	case mcpinteraction.FieldToolArguments:
		return m.OldToolArguments(ctx)
	case mcpinteraction.FieldToolResult:
		return m.OldToolResult(ctx)
	case mcpinteraction.FieldAvailableTools:
		return m.OldAvailableTools(ctx)
	case mcpinteraction.FieldTimestampUs:
		return m.OldTimestampUs(ctx)
	case mcpinteraction.FieldStartTimeUs:
		return m.OldStartTimeUs(ctx)
	case mcpinteraction.FieldEndTimeUs:
		return m.OldEndTimeUs(ctx)
	case mcpinteraction.FieldDurationMs:
		return m.OldDurationMs(ctx)
	case mcpinteraction.FieldSuccess:
		return m.OldSuccess(ctx)
	case mcpinteraction.FieldErrorMessage:
		return m.OldErrorMessage(ctx)
	case mcpinteraction.FieldStepDescription:
		return m.OldStepDescription(ctx)
	}
	return nil, fmt.Errorf("unknown MCPInteraction field %s", name)
}

// SetField sets the value of a field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *MCPInteractionMutation) SetField(name string, value ent.Value) error {
	switch name {
	case mcpinteraction.FieldSessionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetSessionID(v)
		return nil
	case mcpinteraction.FieldStageExecutionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageExecutionID(v)
		return nil
	case mcpinteraction.FieldRequestID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetRequestID(v)
		return nil
	case mcpinteraction.FieldServerName:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetServerName(v)
		return nil
	case mcpinteraction.FieldCommunicationType:
		v, ok := value.(mcpinteraction.CommunicationType)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetCommunicationType(v)
		return nil
	case mcpinteraction.FieldToolName:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetToolName(v)
		return nil
	case mcpinteraction.FieldToolArguments:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetToolArguments(v)
		return nil
	case mcpinteraction.FieldToolResult:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetToolResult(v)
		return nil
	case mcpinteraction.FieldAvailableTools:
		v, ok := value.([]models.MCPToolInfo)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAvailableTools(v)
		return nil
	case mcpinteraction.FieldTimestampUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetTimestampUs(v)
		return nil
	case mcpinteraction.FieldStartTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStartTimeUs(v)
		return nil
	case mcpinteraction.FieldEndTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetEndTimeUs(v)
		return nil
	case mcpinteraction.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetDurationMs(v)
		return nil
	case mcpinteraction.FieldSuccess:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetSuccess(v)
		return nil
	case mcpinteraction.FieldErrorMessage:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetErrorMessage(v)
		return nil
	case mcpinteraction.FieldStepDescription:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStepDescription(v)
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction field %s", name)
}

// AddedFields returns all numeric fields that were incremented/decremented during
// this mutation.
func (m *MCPInteractionMutation) AddedFields() []string {
	var fields []string
	if m.addtimestamp_us != nil {
		fields = append(fields, mcpinteraction.FieldTimestampUs)
	}
	if m.addstart_time_us != nil {
		fields = append(fields, mcpinteraction.FieldStartTimeUs)
	}
	if m.addend_time_us != nil {
		fields = append(fields, mcpinteraction.FieldEndTimeUs)
	}
	if m.addduration_ms != nil {
		fields = append(fields, mcpinteraction.FieldDurationMs)
	}
	return fields
}

// AddedField returns the numeric value that was incremented/decremented on a field
// with the given name. The second boolean return value indicates that this field
// was not set, or was not defined in the schema.
func (m *MCPInteractionMutation) AddedField(name string) (ent.Value, bool) {
	switch name {
	case mcpinteraction.FieldTimestampUs:
		return m.AddedTimestampUs()
	case mcpinteraction.FieldStartTimeUs:
		return m.AddedStartTimeUs()
	case mcpinteraction.FieldEndTimeUs:
		return m.AddedEndTimeUs()
	case mcpinteraction.FieldDurationMs:
		return m.AddedDurationMs()
	}
	return nil, false
}

// AddField adds the value to the field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *MCPInteractionMutation) AddField(name string, value ent.Value) error {
	switch name {
	case mcpinteraction.FieldTimestampUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddTimestampUs(v)
		return nil
	case mcpinteraction.FieldStartTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddStartTimeUs(v)
		return nil
	case mcpinteraction.FieldEndTimeUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddEndTimeUs(v)
		return nil
	case mcpinteraction.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddDurationMs(v)
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction numeric field %s", name)
}

// ClearedFields returns all nullable fields that were cleared during this
// mutation.
func (m *MCPInteractionMutation) ClearedFields() []string {
	var fields []string
	if m.FieldCleared(mcpinteraction.FieldStageExecutionID) {
		fields = append(fields, mcpinteraction.FieldStageExecutionID)
	}
	if m.FieldCleared(mcpinteraction.FieldToolName) {
		fields = append(fields, mcpinteraction.FieldToolName)
	}
	if m.FieldCleared(mcpinteraction.FieldToolArguments) {
		fields = append(fields, mcpinteraction.FieldToolArguments)
	}
	if m.FieldCleared(mcpinteraction.FieldToolResult) {
		fields = append(fields, mcpinteraction.FieldToolResult)
	}
	if m.FieldCleared(mcpinteraction.FieldAvailableTools) {
		fields = append(fields, mcpinteraction.FieldAvailableTools)
	}
	if m.FieldCleared(mcpinteraction.FieldEndTimeUs) {
		fields = append(fields, mcpinteraction.FieldEndTimeUs)
	}
	if m.FieldCleared(mcpinteraction.FieldDurationMs) {
		fields = append(fields, mcpinteraction.FieldDurationMs)
	}
	if m.FieldCleared(mcpinteraction.FieldErrorMessage) {
		fields = append(fields, mcpinteraction.FieldErrorMessage)
	}
	if m.FieldCleared(mcpinteraction.FieldStepDescription) {
		fields = append(fields, mcpinteraction.FieldStepDescription)
	}
	return fields
}

// FieldCleared returns a boolean indicating if a field with the given name was
// cleared in this mutation.
func (m *MCPInteractionMutation) FieldCleared(name string) bool {
	_, ok := m.clearedFields[name]
	return ok
}

// ClearField clears the value of the field with the given name. It returns an
// error if the field is not defined in the schema.
func (m *MCPInteractionMutation) ClearField(name string) error {
	switch name {
	case mcpinteraction.FieldStageExecutionID:
		m.ClearStageExecutionID()
		return nil
	case mcpinteraction.FieldToolName:
		m.ClearToolName()
		return nil
	case mcpinteraction.FieldToolArguments:
		m.ClearToolArguments()
		return nil
	case mcpinteraction.FieldToolResult:
		m.ClearToolResult()
		return nil
	case mcpinteraction.FieldAvailableTools:
		m.ClearAvailableTools()
		return nil
	case mcpinteraction.FieldEndTimeUs:
		m.ClearEndTimeUs()
		return nil
	case mcpinteraction.FieldDurationMs:
		m.ClearDurationMs()
		return nil
	case mcpinteraction.FieldErrorMessage:
		m.ClearErrorMessage()
		return nil
	case mcpinteraction.FieldStepDescription:
		m.ClearStepDescription()
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction nullable field %s", name)
}

// ResetField resets all changes in the mutation for the field with the given name.
// It returns an error if the field is not defined in the schema.
func (m *MCPInteractionMutation) ResetField(name string) error {
	switch name {
	case mcpinteraction.FieldSessionID:
		m.ResetSessionID()
		return nil
	case mcpinteraction.FieldStageExecutionID:
		m.ResetStageExecutionID()
		return nil
	case mcpinteraction.FieldRequestID:
		m.ResetRequestID()
		return nil
	case mcpinteraction.FieldServerName:
		m.ResetServerName()
		return nil
	case mcpinteraction.FieldCommunicationType:
		m.ResetCommunicationType()
		return nil
	case mcpinteraction.FieldToolName:
		m.ResetToolName()
		return nil
	case mcpinteraction.FieldToolArguments:
		m.ResetToolArguments()
		return nil
	case mcpinteraction.FieldToolResult:
		m.ResetToolResult()
		return nil
	case mcpinteraction.FieldAvailableTools:
		m.ResetAvailableTools()
		return nil
	case mcpinteraction.FieldTimestampUs:
		m.ResetTimestampUs()
		return nil
	case mcpinteraction.FieldStartTimeUs:
		m.ResetStartTimeUs()
		return nil
	case mcpinteraction.FieldEndTimeUs:
		m.ResetEndTimeUs()
		return nil
	case mcpinteraction.FieldDurationMs:
		m.ResetDurationMs()
		return nil
	case mcpinteraction.FieldSuccess:
		m.ResetSuccess()
		return nil
	case mcpinteraction.FieldErrorMessage:
		m.ResetErrorMessage()
		return nil
	case mcpinteraction.FieldStepDescription:
		m.ResetStepDescription()
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction field %s", name)
}

// AddedEdges returns all edge names that were set/added in this mutation.
func (m *MCPInteractionMutation) AddedEdges() []string {
	edges := make([]string, 0, 2)
	if m.session != nil {
		edges = append(edges, mcpinteraction.EdgeSession)
	}
	if m.stage_execution != nil {
		edges = append(edges, mcpinteraction.EdgeStageExecution)
	}
	return edges
}

// AddedIDs returns all IDs (to other nodes) that were added for the given edge
// name in this mutation.
func (m *MCPInteractionMutation) AddedIDs(name string) []ent.Value {
	switch name {
	case mcpinteraction.EdgeSession:
		if id := m.session; id != nil {
			return []ent.Value{*id}
		}
	case mcpinteraction.EdgeStageExecution:
		if id := m.stage_execution; id != nil {
			return []ent.Value{*id}
		}
	}
	return nil
}

// RemovedEdges returns all edge names that were removed in this mutation.
func (m *MCPInteractionMutation) RemovedEdges() []string {
	edges := make([]string, 0, 2)
	return edges
}

// RemovedIDs returns all IDs (to other nodes) that were removed for the edge with
// the given name in this mutation.
func (m *MCPInteractionMutation) RemovedIDs(name string) []ent.Value {
	return nil
}

// ClearedEdges returns all edge names that were cleared in this mutation.
func (m *MCPInteractionMutation) ClearedEdges() []string {
	edges := make([]string, 0, 2)
	if m.clearedsession {
		edges = append(edges, mcpinteraction.EdgeSession)
	}
	if m.clearedstage_execution {
		edges = append(edges, mcpinteraction.EdgeStageExecution)
	}
	return edges
}

// EdgeCleared returns a boolean which indicates if the edge with the given name
// was cleared in this mutation.
func (m *MCPInteractionMutation) EdgeCleared(name string) bool {
	switch name {
	case mcpinteraction.EdgeSession:
		return m.clearedsession
	case mcpinteraction.EdgeStageExecution:
		return m.clearedstage_execution
	}
	return false
}

// ClearEdge clears the value of the edge with the given name. It returns an error
// if that edge is not defined in the schema.
func (m *MCPInteractionMutation) ClearEdge(name string) error {
	switch name {
	case mcpinteraction.EdgeSession:
		m.ClearSession()
		return nil
	case mcpinteraction.EdgeStageExecution:
		m.ClearStageExecution()
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction unique edge %s", name)
}

// ResetEdge resets all changes to the edge with the given name in this mutation.
// It returns an error if the edge is not defined in the schema.
func (m *MCPInteractionMutation) ResetEdge(name string) error {
	switch name {
	case mcpinteraction.EdgeSession:
		m.ResetSession()
		return nil
	case mcpinteraction.EdgeStageExecution:
		m.ResetStageExecution()
		return nil
	}
	return fmt.Errorf("unknown MCPInteraction edge %s", name)
}

// StageExecutionMutation represents an operation that mutates the StageExecution nodes in the graph.
type StageExecutionMutation struct {
	config
	op                      Op
	typ                     string
	id                      *string
	stage_name              *string
	stage_index             *int
	addstage_index          *int
	stage_id                *string
	agent                   *string
	status                  *stageexecution.Status
	started_at_us           *int64
	addstarted_at_us        *int64
	completed_at_us         *int64
	addcompleted_at_us      *int64
	paused_at_us            *int64
	addpaused_at_us         *int64
	duration_ms             *int
	addduration_ms          *int
	error_message           *string
	stage_output            *map[string]interface{}
	execution_config        *map[string]interface{}
	clearedFields           map[string]struct{}
	session                 *string
	clearedsession          bool
	parent                  *string
	clearedparent           bool
	children                map[string]struct{}
	removedchildren         map[string]struct{}
	clearedchildren         bool
	llm_interactions        map[string]struct{}
	removedllm_interactions map[string]struct{}
	clearedllm_interactions bool
	mcp_interactions        map[string]struct{}
	removedmcp_interactions map[string]struct{}
	clearedmcp_interactions bool
	done                    bool
	oldValue                func(context.Context) (*StageExecution, error)
	predicates              []predicate.StageExecution
}

var _ ent.Mutation = (*StageExecutionMutation)(nil)

// stageexecutionOption allows management of the mutation configuration using functional options.
type stageexecutionOption func(*StageExecutionMutation)

// newStageExecutionMutation creates new mutation for the StageExecution entity.
func newStageExecutionMutation(c config, op Op, opts ...stageexecutionOption) *StageExecutionMutation {
	m := &StageExecutionMutation{
		config:        c,
		op:            op,
		typ:           TypeStageExecution,
		clearedFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withStageExecutionID sets the ID field of the mutation.
func withStageExecutionID(id string) stageexecutionOption {
	return func(m *StageExecutionMutation) {
		var (
			err   error
			once  sync.Once
			value *StageExecution
		)
		m.oldValue = func(ctx context.Context) (*StageExecution, error) {
			once.Do(func() {
				if m.done {
					err = errors.New("querying old values post mutation is not allowed")
				} else {
					value, err = m.Client().StageExecution.Get(ctx, id)
				}
			})
			return value, err
		}
		m.id = &id
	}
}

// withStageExecution sets the old StageExecution of the mutation.
func withStageExecution(node *StageExecution) stageexecutionOption {
	return func(m *StageExecutionMutation) {
		m.oldValue = func(context.Context) (*StageExecution, error) {
			return node, nil
		}
		m.id = &node.ID
	}
}

// Client returns a new `ent.Client` from the mutation. If the mutation was
// executed in a transaction (ent.Tx), a transactional client is returned.
func (m StageExecutionMutation) Client() *Client {
	client := &Client{config: m.config}
	client.init()
	return client
}

// Tx returns an `ent.Tx` for mutations that were executed in transactions;
// it returns an error otherwise.
func (m StageExecutionMutation) Tx() (*Tx, error) {
	if _, ok := m.driver.(*txDriver); !ok {
		return nil, errors.New("ent: mutation is not running in a transaction")
	}
	tx := &Tx{config: m.config}
	tx.init()
	return tx, nil
}

// SetID sets the value of the id field. Note that this
// operation is only accepted on creation of StageExecution entities.
func (m *StageExecutionMutation) SetID(id string) {
	m.id = &id
}

// ID returns the ID value in the mutation. Note that the ID is only available
// if it was provided to the builder or after it was returned from the database.
func (m *StageExecutionMutation) ID() (id string, exists bool) {
	if m.id == nil {
		return
	}
	return *m.id, true
}

// IDs queries the database and returns the entity ids that match the mutation's predicate.
// That means, if the mutation is applied within a transaction with an isolation level such
// as sql.LevelSerializable, the returned ids match the ids of the rows that will be updated
// or updated by the mutation.
func (m *StageExecutionMutation) IDs(ctx context.Context) ([]string, error) {
	switch {
	case m.op.Is(OpUpdateOne | OpDeleteOne):
		id, exists := m.ID()
		if exists {
			return []string{id}, nil
		}
		fallthrough
	case m.op.Is(OpUpdate | OpDelete):
		return m.Client().StageExecution.Query().Where(m.predicates...).IDs(ctx)
	default:
		return nil, fmt.Errorf("IDs is not allowed on %s operations", m.op)
	}
}

// SetSessionID sets the "session_id" field.
func (m *StageExecutionMutation) SetSessionID(s string) {
	m.session = &s
}

// SessionID returns the value of the "session_id" field in the mutation.
func (m *StageExecutionMutation) SessionID() (r string, exists bool) {
	v := m.session
	if v == nil {
		return
	}
	return *v, true
}

// OldSessionID returns the old "session_id" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldSessionID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldSessionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldSessionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldSessionID: %w", err)
	}
	return oldValue.SessionID, nil
}

// ResetSessionID resets all changes to the "session_id" field.
func (m *StageExecutionMutation) ResetSessionID() {
	m.session = nil
}

// SetParentStageExecutionID sets the "parent_stage_execution_id" field.
func (m *StageExecutionMutation) SetParentStageExecutionID(s string) {
	m.parent = &s
}

// ParentStageExecutionID returns the value of the "parent_stage_execution_id" field in the mutation.
func (m *StageExecutionMutation) ParentStageExecutionID() (r string, exists bool) {
	v := m.parent
	if v == nil {
		return
	}
	return *v, true
}

// OldParentStageExecutionID returns the old "parent_stage_execution_id" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldParentStageExecutionID(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldParentStageExecutionID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldParentStageExecutionID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldParentStageExecutionID: %w", err)
	}
	return oldValue.ParentStageExecutionID, nil
}

// ClearParentStageExecutionID clears the value of the "parent_stage_execution_id" field.
func (m *StageExecutionMutation) ClearParentStageExecutionID() {
	m.parent = nil
	m.clearedFields[stageexecution.FieldParentStageExecutionID] = struct{}{}
}

// ParentStageExecutionIDCleared returns if the "parent_stage_execution_id" field was cleared in this mutation.
func (m *StageExecutionMutation) ParentStageExecutionIDCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldParentStageExecutionID]
	return ok
}

// ResetParentStageExecutionID resets all changes to the "parent_stage_execution_id" field.
func (m *StageExecutionMutation) ResetParentStageExecutionID() {
	m.parent = nil
	delete(m.clearedFields, stageexecution.FieldParentStageExecutionID)
}

// SetStageName sets the "stage_name" field.
func (m *StageExecutionMutation) SetStageName(s string) {
	m.stage_name = &s
}

// StageName returns the value of the "stage_name" field in the mutation.
func (m *StageExecutionMutation) StageName() (r string, exists bool) {
	v := m.stage_name
	if v == nil {
		return
	}
	return *v, true
}

// OldStageName returns the old "stage_name" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStageName(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageName is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageName requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageName: %w", err)
	}
	return oldValue.StageName, nil
}

// ResetStageName resets all changes to the "stage_name" field.
func (m *StageExecutionMutation) ResetStageName() {
	m.stage_name = nil
}

// SetStageIndex sets the "stage_index" field.
func (m *StageExecutionMutation) SetStageIndex(i int) {
	m.stage_index = &i
	m.addstage_index = nil
}

// StageIndex returns the value of the "stage_index" field in the mutation.
func (m *StageExecutionMutation) StageIndex() (r int, exists bool) {
	v := m.stage_index
	if v == nil {
		return
	}
	return *v, true
}

// OldStageIndex returns the old "stage_index" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStageIndex(ctx context.Context) (v int, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageIndex is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageIndex requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageIndex: %w", err)
	}
	return oldValue.StageIndex, nil
}

// AddStageIndex adds i to the "stage_index" field.
func (m *StageExecutionMutation) AddStageIndex(i int) {
	if m.addstage_index != nil {
		*m.addstage_index += i
	} else {
		m.addstage_index = &i
	}
}

// AddedStageIndex returns the value that was added to the "stage_index" field in this mutation.
func (m *StageExecutionMutation) AddedStageIndex() (r int, exists bool) {
	v := m.addstage_index
	if v == nil {
		return
	}
	return *v, true
}

// ResetStageIndex resets all changes to the "stage_index" field.
func (m *StageExecutionMutation) ResetStageIndex() {
	m.stage_index = nil
	m.addstage_index = nil
}

// SetStageID sets the "stage_id" field.
func (m *StageExecutionMutation) SetStageID(s string) {
	m.stage_id = &s
}

// StageID returns the value of the "stage_id" field in the mutation.
func (m *StageExecutionMutation) StageID() (r string, exists bool) {
	v := m.stage_id
	if v == nil {
		return
	}
	return *v, true
}

// OldStageID returns the old "stage_id" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStageID(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageID is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageID requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageID: %w", err)
	}
	return oldValue.StageID, nil
}

// ResetStageID resets all changes to the "stage_id" field.
func (m *StageExecutionMutation) ResetStageID() {
	m.stage_id = nil
}

// SetAgent sets the "agent" field.
func (m *StageExecutionMutation) SetAgent(s string) {
	m.agent = &s
}

// Agent returns the value of the "agent" field in the mutation.
func (m *StageExecutionMutation) Agent() (r string, exists bool) {
	v := m.agent
	if v == nil {
		return
	}
	return *v, true
}

// OldAgent returns the old "agent" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldAgent(ctx context.Context) (v string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldAgent is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldAgent requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldAgent: %w", err)
	}
	return oldValue.Agent, nil
}

// ResetAgent resets all changes to the "agent" field.
func (m *StageExecutionMutation) ResetAgent() {
	m.agent = nil
}

// SetStatus sets the "status" field.
func (m *StageExecutionMutation) SetStatus(s stageexecution.Status) {
	m.status = &s
}

// Status returns the value of the "status" field in the mutation.
func (m *StageExecutionMutation) Status() (r stageexecution.Status, exists bool) {
	v := m.status
	if v == nil {
		return
	}
	return *v, true
}

// OldStatus returns the old "status" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStatus(ctx context.Context) (v stageexecution.Status, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStatus is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStatus requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStatus: %w", err)
	}
	return oldValue.Status, nil
}

// ResetStatus resets all changes to the "status" field.
func (m *StageExecutionMutation) ResetStatus() {
	m.status = nil
}

// SetStartedAtUs sets the "started_at_us" field.
func (m *StageExecutionMutation) SetStartedAtUs(i int64) {
	m.started_at_us = &i
	m.addstarted_at_us = nil
}

// StartedAtUs returns the value of the "started_at_us" field in the mutation.
func (m *StageExecutionMutation) StartedAtUs() (r int64, exists bool) {
	v := m.started_at_us
	if v == nil {
		return
	}
	return *v, true
}

// OldStartedAtUs returns the old "started_at_us" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStartedAtUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStartedAtUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStartedAtUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStartedAtUs: %w", err)
	}
	return oldValue.StartedAtUs, nil
}

// AddStartedAtUs adds i to the "started_at_us" field.
func (m *StageExecutionMutation) AddStartedAtUs(i int64) {
	if m.addstarted_at_us != nil {
		*m.addstarted_at_us += i
	} else {
		m.addstarted_at_us = &i
	}
}

// AddedStartedAtUs returns the value that was added to the "started_at_us" field in this mutation.
func (m *StageExecutionMutation) AddedStartedAtUs() (r int64, exists bool) {
	v := m.addstarted_at_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearStartedAtUs clears the value of the "started_at_us" field.
func (m *StageExecutionMutation) ClearStartedAtUs() {
	m.started_at_us = nil
	m.addstarted_at_us = nil
	m.clearedFields[stageexecution.FieldStartedAtUs] = struct{}{}
}

// StartedAtUsCleared returns if the "started_at_us" field was cleared in this mutation.
func (m *StageExecutionMutation) StartedAtUsCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldStartedAtUs]
	return ok
}

// ResetStartedAtUs resets all changes to the "started_at_us" field.
func (m *StageExecutionMutation) ResetStartedAtUs() {
	m.started_at_us = nil
	m.addstarted_at_us = nil
	delete(m.clearedFields, stageexecution.FieldStartedAtUs)
}

// SetCompletedAtUs sets the "completed_at_us" field.
func (m *StageExecutionMutation) SetCompletedAtUs(i int64) {
	m.completed_at_us = &i
	m.addcompleted_at_us = nil
}

// CompletedAtUs returns the value of the "completed_at_us" field in the mutation.
func (m *StageExecutionMutation) CompletedAtUs() (r int64, exists bool) {
	v := m.completed_at_us
	if v == nil {
		return
	}
	return *v, true
}

// OldCompletedAtUs returns the old "completed_at_us" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldCompletedAtUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldCompletedAtUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldCompletedAtUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldCompletedAtUs: %w", err)
	}
	return oldValue.CompletedAtUs, nil
}

// AddCompletedAtUs adds i to the "completed_at_us" field.
func (m *StageExecutionMutation) AddCompletedAtUs(i int64) {
	if m.addcompleted_at_us != nil {
		*m.addcompleted_at_us += i
	} else {
		m.addcompleted_at_us = &i
	}
}

// AddedCompletedAtUs returns the value that was added to the "completed_at_us" field in this mutation.
func (m *StageExecutionMutation) AddedCompletedAtUs() (r int64, exists bool) {
	v := m.addcompleted_at_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearCompletedAtUs clears the value of the "completed_at_us" field.
func (m *StageExecutionMutation) ClearCompletedAtUs() {
	m.completed_at_us = nil
	m.addcompleted_at_us = nil
	m.clearedFields[stageexecution.FieldCompletedAtUs] = struct{}{}
}

// CompletedAtUsCleared returns if the "completed_at_us" field was cleared in this mutation.
func (m *StageExecutionMutation) CompletedAtUsCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldCompletedAtUs]
	return ok
}

// ResetCompletedAtUs resets all changes to the "completed_at_us" field.
func (m *StageExecutionMutation) ResetCompletedAtUs() {
	m.completed_at_us = nil
	m.addcompleted_at_us = nil
	delete(m.clearedFields, stageexecution.FieldCompletedAtUs)
}

// SetPausedAtUs sets the "paused_at_us" field.
func (m *StageExecutionMutation) SetPausedAtUs(i int64) {
	m.paused_at_us = &i
	m.addpaused_at_us = nil
}

// PausedAtUs returns the value of the "paused_at_us" field in the mutation.
func (m *StageExecutionMutation) PausedAtUs() (r int64, exists bool) {
	v := m.paused_at_us
	if v == nil {
		return
	}
	return *v, true
}

// OldPausedAtUs returns the old "paused_at_us" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldPausedAtUs(ctx context.Context) (v *int64, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldPausedAtUs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldPausedAtUs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldPausedAtUs: %w", err)
	}
	return oldValue.PausedAtUs, nil
}

// AddPausedAtUs adds i to the "paused_at_us" field.
func (m *StageExecutionMutation) AddPausedAtUs(i int64) {
	if m.addpaused_at_us != nil {
		*m.addpaused_at_us += i
	} else {
		m.addpaused_at_us = &i
	}
}

// AddedPausedAtUs returns the value that was added to the "paused_at_us" field in this mutation.
func (m *StageExecutionMutation) AddedPausedAtUs() (r int64, exists bool) {
	v := m.addpaused_at_us
	if v == nil {
		return
	}
	return *v, true
}

// ClearPausedAtUs clears the value of the "paused_at_us" field.
func (m *StageExecutionMutation) ClearPausedAtUs() {
	m.paused_at_us = nil
	m.addpaused_at_us = nil
	m.clearedFields[stageexecution.FieldPausedAtUs] = struct{}{}
}

// PausedAtUsCleared returns if the "paused_at_us" field was cleared in this mutation.
func (m *StageExecutionMutation) PausedAtUsCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldPausedAtUs]
	return ok
}

// ResetPausedAtUs resets all changes to the "paused_at_us" field.
func (m *StageExecutionMutation) ResetPausedAtUs() {
	m.paused_at_us = nil
	m.addpaused_at_us = nil
	delete(m.clearedFields, stageexecution.FieldPausedAtUs)
}

// SetDurationMs sets the "duration_ms" field.
func (m *StageExecutionMutation) SetDurationMs(i int) {
	m.duration_ms = &i
	m.addduration_ms = nil
}

// DurationMs returns the value of the "duration_ms" field in the mutation.
func (m *StageExecutionMutation) DurationMs() (r int, exists bool) {
	v := m.duration_ms
	if v == nil {
		return
	}
	return *v, true
}

// OldDurationMs returns the old "duration_ms" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldDurationMs(ctx context.Context) (v *int, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldDurationMs is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldDurationMs requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldDurationMs: %w", err)
	}
	return oldValue.DurationMs, nil
}

// AddDurationMs adds i to the "duration_ms" field.
func (m *StageExecutionMutation) AddDurationMs(i int) {
	if m.addduration_ms != nil {
		*m.addduration_ms += i
	} else {
		m.addduration_ms = &i
	}
}

// AddedDurationMs returns the value that was added to the "duration_ms" field in this mutation.
func (m *StageExecutionMutation) AddedDurationMs() (r int, exists bool) {
	v := m.addduration_ms
	if v == nil {
		return
	}
	return *v, true
}

// ClearDurationMs clears the value of the "duration_ms" field.
func (m *StageExecutionMutation) ClearDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	m.clearedFields[stageexecution.FieldDurationMs] = struct{}{}
}

// DurationMsCleared returns if the "duration_ms" field was cleared in this mutation.
func (m *StageExecutionMutation) DurationMsCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldDurationMs]
	return ok
}

// ResetDurationMs resets all changes to the "duration_ms" field.
func (m *StageExecutionMutation) ResetDurationMs() {
	m.duration_ms = nil
	m.addduration_ms = nil
	delete(m.clearedFields, stageexecution.FieldDurationMs)
}

// SetErrorMessage sets the "error_message" field.
func (m *StageExecutionMutation) SetErrorMessage(s string) {
	m.error_message = &s
}

// ErrorMessage returns the value of the "error_message" field in the mutation.
func (m *StageExecutionMutation) ErrorMessage() (r string, exists bool) {
	v := m.error_message
	if v == nil {
		return
	}
	return *v, true
}

// OldErrorMessage returns the old "error_message" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldErrorMessage(ctx context.Context) (v *string, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldErrorMessage is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldErrorMessage requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldErrorMessage: %w", err)
	}
	return oldValue.ErrorMessage, nil
}

// ClearErrorMessage clears the value of the "error_message" field.
func (m *StageExecutionMutation) ClearErrorMessage() {
	m.error_message = nil
	m.clearedFields[stageexecution.FieldErrorMessage] = struct{}{}
}

// ErrorMessageCleared returns if the "error_message" field was cleared in this mutation.
func (m *StageExecutionMutation) ErrorMessageCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldErrorMessage]
	return ok
}

// ResetErrorMessage resets all changes to the "error_message" field.
func (m *StageExecutionMutation) ResetErrorMessage() {
	m.error_message = nil
	delete(m.clearedFields, stageexecution.FieldErrorMessage)
}

// SetStageOutput sets the "stage_output" field.
func (m *StageExecutionMutation) SetStageOutput(value map[string]interface{}) {
	m.stage_output = &value
}

// StageOutput returns the value of the "stage_output" field in the mutation.
func (m *StageExecutionMutation) StageOutput() (r map[string]interface{}, exists bool) {
	v := m.stage_output
	if v == nil {
		return
	}
	return *v, true
}

// OldStageOutput returns the old "stage_output" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldStageOutput(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldStageOutput is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldStageOutput requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldStageOutput: %w", err)
	}
	return oldValue.StageOutput, nil
}

// ClearStageOutput clears the value of the "stage_output" field.
func (m *StageExecutionMutation) ClearStageOutput() {
	m.stage_output = nil
	m.clearedFields[stageexecution.FieldStageOutput] = struct{}{}
}

// StageOutputCleared returns if the "stage_output" field was cleared in this mutation.
func (m *StageExecutionMutation) StageOutputCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldStageOutput]
	return ok
}

// ResetStageOutput resets all changes to the "stage_output" field.
func (m *StageExecutionMutation) ResetStageOutput() {
	m.stage_output = nil
	delete(m.clearedFields, stageexecution.FieldStageOutput)
}

// SetExecutionConfig sets the "execution_config" field.
func (m *StageExecutionMutation) SetExecutionConfig(value map[string]interface{}) {
	m.execution_config = &value
}

// ExecutionConfig returns the value of the "execution_config" field in the mutation.
func (m *StageExecutionMutation) ExecutionConfig() (r map[string]interface{}, exists bool) {
	v := m.execution_config
	if v == nil {
		return
	}
	return *v, true
}

// OldExecutionConfig returns the old "execution_config" field's value of the StageExecution entity.
// If the StageExecution object wasn't provided to the builder, the object is fetched from the database.
// An error is returned if the mutation operation is not UpdateOne, or the database query fails.
func (m *StageExecutionMutation) OldExecutionConfig(ctx context.Context) (v map[string]interface{}, err error) {
	if !m.op.Is(OpUpdateOne) {
		return v, errors.New("OldExecutionConfig is only allowed on UpdateOne operations")
	}
	if m.id == nil || m.oldValue == nil {
		return v, errors.New("OldExecutionConfig requires an ID field in the mutation")
	}
	oldValue, err := m.oldValue(ctx)
	if err != nil {
		return v, fmt.Errorf("querying old value for OldExecutionConfig: %w", err)
	}
	return oldValue.ExecutionConfig, nil
}

// ClearExecutionConfig clears the value of the "execution_config" field.
func (m *StageExecutionMutation) ClearExecutionConfig() {
	m.execution_config = nil
	m.clearedFields[stageexecution.FieldExecutionConfig] = struct{}{}
}

// ExecutionConfigCleared returns if the "execution_config" field was cleared in this mutation.
func (m *StageExecutionMutation) ExecutionConfigCleared() bool {
	_, ok := m.clearedFields[stageexecution.FieldExecutionConfig]
	return ok
}

// ResetExecutionConfig resets all changes to the "execution_config" field.
func (m *StageExecutionMutation) ResetExecutionConfig() {
	m.execution_config = nil
	delete(m.clearedFields, stageexecution.FieldExecutionConfig)
}

// ClearSession clears the "session" edge to the AlertSession entity.
func (m *StageExecutionMutation) ClearSession() {
	m.clearedsession = true
	m.clearedFields[stageexecution.FieldSessionID] = struct{}{}
}

// SessionCleared reports if the "session" edge to the AlertSession entity was cleared.
func (m *StageExecutionMutation) SessionCleared() bool {
	return m.clearedsession
}

// SessionIDs returns the "session" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// SessionID instead. It exists only for internal usage by the builders.
func (m *StageExecutionMutation) SessionIDs() (ids []string) {
	if id := m.session; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetSession resets all changes to the "session" edge.
func (m *StageExecutionMutation) ResetSession() {
	m.session = nil
	m.clearedsession = false
}

// SetParentID sets the "parent" edge to the StageExecution entity by id.
func (m *StageExecutionMutation) SetParentID(id string) {
	m.parent = &id
}

// ClearParent clears the "parent" edge to the StageExecution entity.
func (m *StageExecutionMutation) ClearParent() {
	m.clearedparent = true
	m.clearedFields[stageexecution.FieldParentStageExecutionID] = struct{}{}
}

// ParentCleared reports if the "parent" edge to the StageExecution entity was cleared.
func (m *StageExecutionMutation) ParentCleared() bool {
	return m.ParentStageExecutionIDCleared() || m.clearedparent
}

// ParentID returns the "parent" edge ID in the mutation.
func (m *StageExecutionMutation) ParentID() (id string, exists bool) {
	if m.parent != nil {
		return *m.parent, true
	}
	return
}

// ParentIDs returns the "parent" edge IDs in the mutation.
// Note that IDs always returns len(IDs) <= 1 for unique edges, and you should use
// ParentID instead. It exists only for internal usage by the builders.
func (m *StageExecutionMutation) ParentIDs() (ids []string) {
	if id := m.parent; id != nil {
		ids = append(ids, *id)
	}
	return
}

// ResetParent resets all changes to the "parent" edge.
func (m *StageExecutionMutation) ResetParent() {
	m.parent = nil
	m.clearedparent = false
}

// AddChildIDs adds the "children" edge to the StageExecution entity by ids.
func (m *StageExecutionMutation) AddChildIDs(ids ...string) {
	if m.children == nil {
		m.children = make(map[string]struct{})
	}
	for i := range ids {
		m.children[ids[i]] = struct{}{}
	}
}

// ClearChildren clears the "children" edge to the StageExecution entity.
func (m *StageExecutionMutation) ClearChildren() {
	m.clearedchildren = true
}

// ChildrenCleared reports if the "children" edge to the StageExecution entity was cleared.
func (m *StageExecutionMutation) ChildrenCleared() bool {
	return m.clearedchildren
}

// RemoveChildIDs removes the "children" edge to the StageExecution entity by IDs.
func (m *StageExecutionMutation) RemoveChildIDs(ids ...string) {
	if m.removedchildren == nil {
		m.removedchildren = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.children, ids[i])
		m.removedchildren[ids[i]] = struct{}{}
	}
}

// RemovedChildren returns the removed IDs of the "children" edge to the StageExecution entity.
func (m *StageExecutionMutation) RemovedChildrenIDs() (ids []string) {
	for id := range m.removedchildren {
		ids = append(ids, id)
	}
	return
}

// ChildrenIDs returns the "children" edge IDs in the mutation.
func (m *StageExecutionMutation) ChildrenIDs() (ids []string) {
	for id := range m.children {
		ids = append(ids, id)
	}
	return
}

// ResetChildren resets all changes to the "children" edge.
func (m *StageExecutionMutation) ResetChildren() {
	m.children = nil
	m.clearedchildren = false
	m.removedchildren = nil
}

// AddLlmInteractionIDs adds the "llm_interactions" edge to the LLMInteraction entity by ids.
func (m *StageExecutionMutation) AddLlmInteractionIDs(ids ...string) {
	if m.llm_interactions == nil {
		m.llm_interactions = make(map[string]struct{})
	}
	for i := range ids {
		m.llm_interactions[ids[i]] = struct{}{}
	}
}

// ClearLlmInteractions clears the "llm_interactions" edge to the LLMInteraction entity.
func (m *StageExecutionMutation) ClearLlmInteractions() {
	m.clearedllm_interactions = true
}

// LlmInteractionsCleared reports if the "llm_interactions" edge to the LLMInteraction entity was cleared.
func (m *StageExecutionMutation) LlmInteractionsCleared() bool {
	return m.clearedllm_interactions
}

// RemoveLlmInteractionIDs removes the "llm_interactions" edge to the LLMInteraction entity by IDs.
func (m *StageExecutionMutation) RemoveLlmInteractionIDs(ids ...string) {
	if m.removedllm_interactions == nil {
		m.removedllm_interactions = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.llm_interactions, ids[i])
		m.removedllm_interactions[ids[i]] = struct{}{}
	}
}

// RemovedLlmInteractions returns the removed IDs of the "llm_interactions" edge to the LLMInteraction entity.
func (m *StageExecutionMutation) RemovedLlmInteractionsIDs() (ids []string) {
	for id := range m.removedllm_interactions {
		ids = append(ids, id)
	}
	return
}

// LlmInteractionsIDs returns the "llm_interactions" edge IDs in the mutation.
func (m *StageExecutionMutation) LlmInteractionsIDs() (ids []string) {
	for id := range m.llm_interactions {
		ids = append(ids, id)
	}
	return
}

// ResetLlmInteractions resets all changes to the "llm_interactions" edge.
func (m *StageExecutionMutation) ResetLlmInteractions() {
	m.llm_interactions = nil
	m.clearedllm_interactions = false
	m.removedllm_interactions = nil
}

// AddMcpInteractionIDs adds the "mcp_interactions" edge to the MCPInteraction entity by ids.
func (m *StageExecutionMutation) AddMcpInteractionIDs(ids ...string) {
	if m.mcp_interactions == nil {
		m.mcp_interactions = make(map[string]struct{})
	}
	for i := range ids {
		m.mcp_interactions[ids[i]] = struct{}{}
	}
}

// ClearMcpInteractions clears the "mcp_interactions" edge to the MCPInteraction entity.
func (m *StageExecutionMutation) ClearMcpInteractions() {
	m.clearedmcp_interactions = true
}

// McpInteractionsCleared reports if the "mcp_interactions" edge to the MCPInteraction entity was cleared.
func (m *StageExecutionMutation) McpInteractionsCleared() bool {
	return m.clearedmcp_interactions
}

// RemoveMcpInteractionIDs removes the "mcp_interactions" edge to the MCPInteraction entity by IDs.
func (m *StageExecutionMutation) RemoveMcpInteractionIDs(ids ...string) {
	if m.removedmcp_interactions == nil {
		m.removedmcp_interactions = make(map[string]struct{})
	}
	for i := range ids {
		delete(m.mcp_interactions, ids[i])
		m.removedmcp_interactions[ids[i]] = struct{}{}
	}
}

// RemovedMcpInteractions returns the removed IDs of the "mcp_interactions" edge to the MCPInteraction entity.
func (m *StageExecutionMutation) RemovedMcpInteractionsIDs() (ids []string) {
	for id := range m.removedmcp_interactions {
		ids = append(ids, id)
	}
	return
}

// McpInteractionsIDs returns the "mcp_interactions" edge IDs in the mutation.
func (m *StageExecutionMutation) McpInteractionsIDs() (ids []string) {
	for id := range m.mcp_interactions {
		ids = append(ids, id)
	}
	return
}

// ResetMcpInteractions resets all changes to the "mcp_interactions" edge.
func (m *StageExecutionMutation) ResetMcpInteractions() {
	m.mcp_interactions = nil
	m.clearedmcp_interactions = false
	m.removedmcp_interactions = nil
}

// Where appends a list predicates to the StageExecutionMutation builder.
func (m *StageExecutionMutation) Where(ps ...predicate.StageExecution) {
	m.predicates = append(m.predicates, ps...)
}

// WhereP appends storage-level predicates to the StageExecutionMutation builder. Using this method,
// users can use type-assertion to append predicates that do not depend on any generated package.
func (m *StageExecutionMutation) WhereP(ps ...func(*sql.Selector)) {
	p := make([]predicate.StageExecution, len(ps))
	for i := range ps {
		p[i] = ps[i]
	}
	m.Where(p...)
}

// Op returns the operation name.
func (m *StageExecutionMutation) Op() Op {
	return m.op
}

// SetOp allows setting the mutation operation.
func (m *StageExecutionMutation) SetOp(op Op) {
	m.op = op
}

// Type returns the node type of this mutation (StageExecution).
func (m *StageExecutionMutation) Type() string {
	return m.typ
}

// Fields returns all fields that were changed during this mutation. Note that in
// order to get all numeric fields that were incremented/decremented, call
// AddedFields().
func (m *StageExecutionMutation) Fields() []string {
	fields := make([]string, 0, 14)
	if m.session != nil {
		fields = append(fields, stageexecution.FieldSessionID)
	}
	if m.parent != nil {
		fields = append(fields, stageexecution.FieldParentStageExecutionID)
	}
	if m.stage_name != nil {
		fields = append(fields, stageexecution.FieldStageName)
	}
	if m.stage_index != nil {
		fields = append(fields, stageexecution.FieldStageIndex)
	}
	if m.stage_id != nil {
		fields = append(fields, stageexecution.FieldStageID)
	}
	if m.agent != nil {
		fields = append(fields, stageexecution.FieldAgent)
	}
	if m.status != nil {
		fields = append(fields, stageexecution.FieldStatus)
	}
	if m.started_at_us != nil {
		fields = append(fields, stageexecution.FieldStartedAtUs)
	}
	if m.completed_at_us != nil {
		fields = append(fields, stageexecution.FieldCompletedAtUs)
	}
	if m.paused_at_us != nil {
		fields = append(fields, stageexecution.FieldPausedAtUs)
	}
	if m.duration_ms != nil {
		fields = append(fields, stageexecution.FieldDurationMs)
	}
	if m.error_message != nil {
		fields = append(fields, stageexecution.FieldErrorMessage)
	}
	if m.stage_output != nil {
		fields = append(fields, stageexecution.FieldStageOutput)
	}
	if m.execution_config != nil {
		fields = append(fields, stageexecution.FieldExecutionConfig)
	}
	return fields
}

// Field returns the value of a field with the given name. The second boolean
// return value indicates that this field was not set, or was not defined in the
// schema.
func (m *StageExecutionMutation) Field(name string) (ent.Value, bool) {
	switch name {
	case stageexecution.FieldSessionID:
		return m.SessionID()
	case stageexecution.FieldParentStageExecutionID:
		return m.ParentStageExecutionID()
	case stageexecution.FieldStageName:
		return m.StageName()
	case stageexecution.FieldStageIndex:
		return m.StageIndex()
	case stageexecution.FieldStageID:
		return m.StageID()
	case stageexecution.FieldAgent:
		return m.Agent()
	case stageexecution.FieldStatus:
		return m.Status()
	case stageexecution.FieldStartedAtUs:
		return m.StartedAtUs()
	case stageexecution.FieldCompletedAtUs:
		return m.CompletedAtUs()
	case stageexecution.FieldPausedAtUs:
		return m.PausedAtUs()
	case stageexecution.FieldDurationMs:
		return m.DurationMs()
	case stageexecution.FieldErrorMessage:
		return m.ErrorMessage()
	case stageexecution.FieldStageOutput:
		return m.StageOutput()
	case stageexecution.FieldExecutionConfig:
		return m.ExecutionConfig()
	}
	return nil, false
}

// OldField returns the old value of the field from the database. An error is
// returned if the mutation operation is not UpdateOne, or the query to the
// database failed.
func (m *StageExecutionMutation) OldField(ctx context.Context, name string) (ent.Value, error) {
	switch name {
	case stageexecution.FieldSessionID:
		return m.OldSessionID(ctx)
	case stageexecution.FieldParentStageExecutionID:
		return m.OldParentStageExecutionID(ctx)
	case stageexecution.FieldStageName:
		return m.OldStageName(ctx)
	case stageexecution.FieldStageIndex:
		return m.OldStageIndex(ctx)
	case stageexecution.FieldStageID:
		return m.OldStageID(ctx)
	case stageexecution.FieldAgent:
		return m.OldAgent(ctx)
	case stageexecution.FieldStatus:
		return m.OldStatus(ctx)
	case stageexecution.FieldStartedAtUs:
		return m.OldStartedAtUs(ctx)
	case stageexecution.FieldCompletedAtUs:
		return m.OldCompletedAtUs(ctx)
	case stageexecution.FieldPausedAtUs:
		return m.OldPausedAtUs(ctx)
	case stageexecution.FieldDurationMs:
		return m.OldDurationMs(ctx)
	case stageexecution.FieldErrorMessage:
		return m.OldErrorMessage(ctx)
	case stageexecution.FieldStageOutput:
		return m.OldStageOutput(ctx)
	case stageexecution.FieldExecutionConfig:
		return m.OldExecutionConfig(ctx)
	}
	return nil, fmt.Errorf("unknown StageExecution field %s", name)
}

// SetField sets the value of a field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *StageExecutionMutation) SetField(name string, value ent.Value) error {
	switch name {
	case stageexecution.FieldSessionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetSessionID(v)
		return nil
	case stageexecution.FieldParentStageExecutionID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetParentStageExecutionID(v)
		return nil
	case stageexecution.FieldStageName:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageName(v)
		return nil
	case stageexecution.FieldStageIndex:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageIndex(v)
		return nil
	case stageexecution.FieldStageID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageID(v)
		return nil
	case stageexecution.FieldAgent:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetAgent(v)
		return nil
	case stageexecution.FieldStatus:
		v, ok := value.(stageexecution.Status)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStatus(v)
		return nil
	case stageexecution.FieldStartedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStartedAtUs(v)
		return nil
	case stageexecution.FieldCompletedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetCompletedAtUs(v)
		return nil
	case stageexecution.FieldPausedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetPausedAtUs(v)
		return nil
	case stageexecution.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetDurationMs(v)
		return nil
	case stageexecution.FieldErrorMessage:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetErrorMessage(v)
		return nil
	case stageexecution.FieldStageOutput:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetStageOutput(v)
		return nil
	case stageexecution.FieldExecutionConfig:
		v, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.SetExecutionConfig(v)
		return nil
	}
	return fmt.Errorf("unknown StageExecution field %s", name)
}

// AddedFields returns all numeric fields that were incremented/decremented during
// this mutation.
func (m *StageExecutionMutation) AddedFields() []string {
	var fields []string
	if m.addstage_index != nil {
		fields = append(fields, stageexecution.FieldStageIndex)
	}
	if m.addstarted_at_us != nil {
		fields = append(fields, stageexecution.FieldStartedAtUs)
	}
	if m.addcompleted_at_us != nil {
		fields = append(fields, stageexecution.FieldCompletedAtUs)
	}
	if m.addpaused_at_us != nil {
		fields = append(fields, stageexecution.FieldPausedAtUs)
	}
	if m.addduration_ms != nil {
		fields = append(fields, stageexecution.FieldDurationMs)
	}
	return fields
}

// AddedField returns the numeric value that was incremented/decremented on a field
// with the given name. The second boolean return value indicates that this field
// was not set, or was not defined in the schema.
func (m *StageExecutionMutation) AddedField(name string) (ent.Value, bool) {
	switch name {
	case stageexecution.FieldStageIndex:
		return m.AddedStageIndex()
	case stageexecution.FieldStartedAtUs:
		return m.AddedStartedAtUs()
	case stageexecution.FieldCompletedAtUs:
		return m.AddedCompletedAtUs()
	case stageexecution.FieldPausedAtUs:
		return m.AddedPausedAtUs()
	case stageexecution.FieldDurationMs:
		return m.AddedDurationMs()
	}
	return nil, false
}

// AddField adds the value to the field with the given name. It returns an error if
// the field is not defined in the schema, or if the type mismatched the field
// type.
func (m *StageExecutionMutation) AddField(name string, value ent.Value) error {
	switch name {
	case stageexecution.FieldStageIndex:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddStageIndex(v)
		return nil
	case stageexecution.FieldStartedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddStartedAtUs(v)
		return nil
	case stageexecution.FieldCompletedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddCompletedAtUs(v)
		return nil
	case stageexecution.FieldPausedAtUs:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddPausedAtUs(v)
		return nil
	case stageexecution.FieldDurationMs:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("unexpected type %T for field %s", value, name)
		}
		m.AddDurationMs(v)
		return nil
	}
	return fmt.Errorf("unknown StageExecution numeric field %s", name)
}

// ClearedFields returns all nullable fields that were cleared during this
// mutation.
func (m *StageExecutionMutation) ClearedFields() []string {
	var fields []string
	if m.FieldCleared(stageexecution.FieldParentStageExecutionID) {
		fields = append(fields, stageexecution.FieldParentStageExecutionID)
	}
	if m.FieldCleared(stageexecution.FieldStartedAtUs) {
		fields = append(fields, stageexecution.FieldStartedAtUs)
	}
	if m.FieldCleared(stageexecution.FieldCompletedAtUs) {
		fields = append(fields, stageexecution.FieldCompletedAtUs)
	}
	if m.FieldCleared(stageexecution.FieldPausedAtUs) {
		fields = append(fields, stageexecution.FieldPausedAtUs)
	}
	if m.FieldCleared(stageexecution.FieldDurationMs) {
		fields = append(fields, stageexecution.FieldDurationMs)
	}
	if m.FieldCleared(stageexecution.FieldErrorMessage) {
		fields = append(fields, stageexecution.FieldErrorMessage)
	}
	if m.FieldCleared(stageexecution.FieldStageOutput) {
		fields = append(fields, stageexecution.FieldStageOutput)
	}
	if m.FieldCleared(stageexecution.FieldExecutionConfig) {
		fields = append(fields, stageexecution.FieldExecutionConfig)
	}
	return fields
}

// FieldCleared returns a boolean indicating if a field with the given name was
// cleared in this mutation.
func (m *StageExecutionMutation) FieldCleared(name string) bool {
	_, ok := m.clearedFields[name]
	return ok
}

// ClearField clears the value of the field with the given name. It returns an
// error if the field is not defined in the schema.
func (m *StageExecutionMutation) ClearField(name string) error {
	switch name {
	case stageexecution.FieldParentStageExecutionID:
		m.ClearParentStageExecutionID()
		return nil
	case stageexecution.FieldStartedAtUs:
		m.ClearStartedAtUs()
		return nil
	case stageexecution.FieldCompletedAtUs:
		m.ClearCompletedAtUs()
		return nil
	case stageexecution.FieldPausedAtUs:
		m.ClearPausedAtUs()
		return nil
	case stageexecution.FieldDurationMs:
		m.ClearDurationMs()
		return nil
	case stageexecution.FieldErrorMessage:
		m.ClearErrorMessage()
		return nil
	case stageexecution.FieldStageOutput:
		m.ClearStageOutput()
		return nil
	case stageexecution.FieldExecutionConfig:
		m.ClearExecutionConfig()
		return nil
	}
	return fmt.Errorf("unknown StageExecution nullable field %s", name)
}

// ResetField resets all changes in the mutation for the field with the given name.
// It returns an error if the field is not defined in the schema.
func (m *StageExecutionMutation) ResetField(name string) error {
	switch name {
	case stageexecution.FieldSessionID:
		m.ResetSessionID()
		return nil
	case stageexecution.FieldParentStageExecutionID:
		m.ResetParentStageExecutionID()
		return nil
	case stageexecution.FieldStageName:
		m.ResetStageName()
		return nil
	case stageexecution.FieldStageIndex:
		m.ResetStageIndex()
		return nil
	case stageexecution.FieldStageID:
		m.ResetStageID()
		return nil
	case stageexecution.FieldAgent:
		m.ResetAgent()
		return nil
	case stageexecution.FieldStatus:
		m.ResetStatus()
		return nil
	case stageexecution.FieldStartedAtUs:
		m.ResetStartedAtUs()
		return nil
	case stageexecution.FieldCompletedAtUs:
		m.ResetCompletedAtUs()
		return nil
	case stageexecution.FieldPausedAtUs:
		m.ResetPausedAtUs()
		return nil
	case stageexecution.FieldDurationMs:
		m.ResetDurationMs()
		return nil
	case stageexecution.FieldErrorMessage:
		m.ResetErrorMessage()
		return nil
	case stageexecution.FieldStageOutput:
		m.ResetStageOutput()
		return nil
	case stageexecution.FieldExecutionConfig:
		m.ResetExecutionConfig()
		return nil
	}
	return fmt.Errorf("unknown StageExecution field %s", name)
}

// AddedEdges returns all edge names that were set/added in this mutation.
func (m *StageExecutionMutation) AddedEdges() []string {
	edges := make([]string, 0, 5)
	if m.session != nil {
		edges = append(edges, stageexecution.EdgeSession)
	}
	if m.parent != nil {
		edges = append(edges, stageexecution.EdgeParent)
	}
	if m.children != nil {
		edges = append(edges, stageexecution.EdgeChildren)
	}
	if m.llm_interactions != nil {
		edges = append(edges, stageexecution.EdgeLlmInteractions)
	}
	if m.mcp_interactions != nil {
		edges = append(edges, stageexecution.EdgeMcpInteractions)
	}
	return edges
}

// AddedIDs returns all IDs (to other nodes) that were added for the given edge
// name in this mutation.
func (m *StageExecutionMutation) AddedIDs(name string) []ent.Value {
	switch name {
	case stageexecution.EdgeSession:
		if id := m.session; id != nil {
			return []ent.Value{*id}
		}
	case stageexecution.EdgeParent:
		if id := m.parent; id != nil {
			return []ent.Value{*id}
		}
	case stageexecution.EdgeChildren:
		ids := make([]ent.Value, 0, len(m.children))
		for id := range m.children {
			ids = append(ids, id)
		}
		return ids
	case stageexecution.EdgeLlmInteractions:
		ids := make([]ent.Value, 0, len(m.llm_interactions))
		for id := range m.llm_interactions {
			ids = append(ids, id)
		}
		return ids
	case stageexecution.EdgeMcpInteractions:
		ids := make([]ent.Value, 0, len(m.mcp_interactions))
		for id := range m.mcp_interactions {
			ids = append(ids, id)
		}
		return ids
	}
	return nil
}

// RemovedEdges returns all edge names that were removed in this mutation.
func (m *StageExecutionMutation) RemovedEdges() []string {
	edges := make([]string, 0, 5)
	if m.removedchildren != nil {
		edges = append(edges, stageexecution.EdgeChildren)
	}
	if m.removedllm_interactions != nil {
		edges = append(edges, stageexecution.EdgeLlmInteractions)
	}
	if m.removedmcp_interactions != nil {
		edges = append(edges, stageexecution.EdgeMcpInteractions)
	}
	return edges
}

// RemovedIDs returns all IDs (to other nodes) that were removed for the edge with
// the given name in this mutation.
func (m *StageExecutionMutation) RemovedIDs(name string) []ent.Value {
	switch name {
	case stageexecution.EdgeChildren:
		ids := make([]ent.Value, 0, len(m.removedchildren))
		for id := range m.removedchildren {
			ids = append(ids, id)
		}
		return ids
	case stageexecution.EdgeLlmInteractions:
		ids := make([]ent.Value, 0, len(m.removedllm_interactions))
		for id := range m.removedllm_interactions {
			ids = append(ids, id)
		}
		return ids
	case stageexecution.EdgeMcpInteractions:
		ids := make([]ent.Value, 0, len(m.removedmcp_interactions))
		for id := range m.removedmcp_interactions {
			ids = append(ids, id)
		}
		return ids
	}
	return nil
}

// ClearedEdges returns all edge names that were cleared in this mutation.
func (m *StageExecutionMutation) ClearedEdges() []string {
	edges := make([]string, 0, 5)
	if m.clearedsession {
		edges = append(edges, stageexecution.EdgeSession)
	}
	if m.clearedparent {
		edges = append(edges, stageexecution.EdgeParent)
	}
	if m.clearedchildren {
		edges = append(edges, stageexecution.EdgeChildren)
	}
	if m.clearedllm_interactions {
		edges = append(edges, stageexecution.EdgeLlmInteractions)
	}
	if m.clearedmcp_interactions {
		edges = append(edges, stageexecution.EdgeMcpInteractions)
	}
	return edges
}

// EdgeCleared returns a boolean which indicates if the edge with the given name
// was cleared in this mutation.
func (m *StageExecutionMutation) EdgeCleared(name string) bool {
	switch name {
	case stageexecution.EdgeSession:
		return m.clearedsession
	case stageexecution.EdgeParent:
		return m.clearedparent
	case stageexecution.EdgeChildren:
		return m.clearedchildren
	case stageexecution.EdgeLlmInteractions:
		return m.clearedllm_interactions
	case stageexecution.EdgeMcpInteractions:
		return m.clearedmcp_interactions
	}
	return false
}

// ClearEdge clears the value of the edge with the given name. It returns an error
// if that edge is not defined in the schema.
func (m *StageExecutionMutation) ClearEdge(name string) error {
	switch name {
	case stageexecution.EdgeSession:
		m.ClearSession()
		return nil
	case stageexecution.EdgeParent:
		m.ClearParent()
		return nil
	}
	return fmt.Errorf("unknown StageExecution unique edge %s", name)
}

// ResetEdge resets all changes to the edge with the given name in this mutation.
// It returns an error if the edge is not defined in the schema.
func (m *StageExecutionMutation) ResetEdge(name string) error {
	switch name {
	case stageexecution.EdgeSession:
		m.ResetSession()
		return nil
	case stageexecution.EdgeParent:
		m.ResetParent()
		return nil
	case stageexecution.EdgeChildren:
		m.ResetChildren()
		return nil
	case stageexecution.EdgeLlmInteractions:
		m.ResetLlmInteractions()
		return nil
	case stageexecution.EdgeMcpInteractions:
		m.ResetMcpInteractions()
		return nil
	}
	return fmt.Errorf("unknown StageExecution edge %s", name)
}
