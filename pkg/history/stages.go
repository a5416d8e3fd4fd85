package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tarsy-bot/tarsy/ent"
	"github.com/tarsy-bot/tarsy/ent/stageexecution"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// CreateStageExecution persists a new stage-execution row and returns its
// id. The row keeps a caller-assigned id when present so in-memory state
// and persistence agree even across retries.
func (s *Service) CreateStageExecution(ctx context.Context, exec *models.StageExecution) (string, error) {
	executionID := exec.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}
	if !s.Active() {
		s.skip("create_stage_execution")
		return executionID, nil
	}
	if exec.SessionID == "" {
		return "", NewValidationError("session_id", "required")
	}

	err := s.withRetry(ctx, "create_stage_execution", func(ctx context.Context) error {
		builder := s.client.StageExecution.Create().
			SetID(executionID).
			SetSessionID(exec.SessionID).
			SetStageName(exec.StageName).
			SetStageIndex(exec.StageIndex).
			SetStageID(exec.StageID).
			SetAgent(exec.Agent).
			SetStatus(stageexecution.Status(exec.Status)).
			SetNillableParentStageExecutionID(exec.ParentStageExecutionID).
			SetNillableStartedAtUs(exec.StartedAtUS).
			SetNillableCompletedAtUs(exec.CompletedAtUS).
			SetNillablePausedAtUs(exec.PausedAtUS).
			SetNillableDurationMs(exec.DurationMS).
			SetNillableErrorMessage(exec.ErrorMessage)
		if exec.StageOutput != nil {
			builder.SetStageOutput(exec.StageOutput)
		}
		if exec.ExecutionConfig != nil {
			builder.SetExecutionConfig(exec.ExecutionConfig)
		}
		if _, err := builder.Save(ctx); err != nil {
			if ent.IsConstraintError(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to create stage execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return executionID, nil
}

// UpdateStageExecution writes the mutable fields of an existing row.
func (s *Service) UpdateStageExecution(ctx context.Context, exec *models.StageExecution) (bool, error) {
	if !s.Active() {
		s.skip("update_stage_execution")
		return false, nil
	}
	if exec.ExecutionID == "" {
		return false, NewValidationError("execution_id", "required")
	}

	err := s.withRetry(ctx, "update_stage_execution", func(ctx context.Context) error {
		update := s.client.StageExecution.UpdateOneID(exec.ExecutionID).
			SetStatus(stageexecution.Status(exec.Status)).
			SetNillableStartedAtUs(exec.StartedAtUS).
			SetNillableCompletedAtUs(exec.CompletedAtUS).
			SetNillablePausedAtUs(exec.PausedAtUS).
			SetNillableDurationMs(exec.DurationMS).
			SetNillableErrorMessage(exec.ErrorMessage)
		if exec.StageOutput != nil {
			update.SetStageOutput(exec.StageOutput)
		}
		if exec.ExecutionConfig != nil {
			update.SetExecutionConfig(exec.ExecutionConfig)
		}
		if err := update.Exec(ctx); err != nil {
			if ent.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to update stage execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetStageExecution retrieves one row by id.
func (s *Service) GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error) {
	if !s.Active() {
		s.skip("get_stage_execution")
		return nil, ErrNotFound
	}

	exec, err := s.client.StageExecution.Get(ctx, executionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stage execution: %w", err)
	}
	row := toStageExecution(exec)
	return &row, nil
}

// GetParallelStageChildren returns the child rows of a parallel stage,
// ordered by start time.
func (s *Service) GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error) {
	if !s.Active() {
		s.skip("get_parallel_stage_children")
		return nil, nil
	}

	children, err := s.client.StageExecution.Query().
		Where(stageexecution.ParentStageExecutionIDEQ(parentExecutionID)).
		Order(ent.Asc(stageexecution.FieldStartedAtUs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parallel stage children: %w", err)
	}

	rows := make([]models.StageExecution, 0, len(children))
	for _, child := range children {
		rows = append(rows, toStageExecution(child))
	}
	return rows, nil
}

func toStageExecution(exec *ent.StageExecution) models.StageExecution {
	return models.StageExecution{
		ExecutionID:            exec.ID,
		SessionID:              exec.SessionID,
		ParentStageExecutionID: exec.ParentStageExecutionID,
		StageName:              exec.StageName,
		StageIndex:             exec.StageIndex,
		StageID:                exec.StageID,
		Agent:                  exec.Agent,
		Status:                 models.StageStatus(exec.Status),
		StartedAtUS:            exec.StartedAtUs,
		CompletedAtUS:          exec.CompletedAtUs,
		PausedAtUS:             exec.PausedAtUs,
		DurationMS:             exec.DurationMs,
		ErrorMessage:           exec.ErrorMessage,
		StageOutput:            exec.StageOutput,
		ExecutionConfig:        exec.ExecutionConfig,
	}
}
