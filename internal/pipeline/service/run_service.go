package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// RunService reads runs per workflow stage and handles stage pickup.
type RunService struct {
	db *gorm.DB
}

// NewRunService creates a new RunService instance.
func NewRunService(db *gorm.DB) *RunService {
	return &RunService{db: db}
}

// ListOperations returns the workflow operations visible to the
// caller's roles, in stage order.
func (s *RunService) ListOperations(ctx context.Context, principal *auth.Principal) ([]model.WorkflowOperation, error) {
	query := s.db.WithContext(ctx).Order("operation_order")
	if !principal.IsAdmin() {
		query = query.Where("role IN ?", principal.Roles)
	}

	var operations []model.WorkflowOperation
	if err := query.Find(&operations).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list workflow operations")
	}
	return operations, nil
}

// ListActions returns the UI actions visible to the caller's roles.
func (s *RunService) ListActions(ctx context.Context, principal *auth.Principal) ([]model.Action, error) {
	query := s.db.WithContext(ctx).Order("action_oid")
	if !principal.IsAdmin() {
		query = query.Where("role IN ?", principal.Roles)
	}

	var actions []model.Action
	if err := query.Find(&actions).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list actions")
	}
	return actions, nil
}

// ListRuns returns the runs sitting in the given workflow stage that
// the caller owns or could pick up. Admins see every run of the stage.
func (s *RunService) ListRuns(ctx context.Context, principal *auth.Principal, workflowCode string, offset, limit int) ([]model.PipelineRun, error) {
	slot, err := model.StageSlotColumn(workflowCode)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}

	query := s.db.WithContext(ctx).
		Preload("CollectionUser").
		Preload("LoadUser").
		Preload("CheckUser").
		Preload("QAUser").
		Where("workflow_operation = ?", workflowCode).
		Order("record_date DESC, run_id DESC").
		Offset(offset).
		Limit(limit)
	if !principal.IsAdmin() {
		query = query.Where(fmt.Sprintf("%s IS NULL OR %s = ?", slot, slot), principal.UserID)
	}

	var runs []model.PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list runs")
	}
	return runs, nil
}

// CheckOwnership confirms the caller owns the run's current stage
// slot. Upload and other file-touching endpoints call this before
// acting on a run's folder.
func (s *RunService) CheckOwnership(ctx context.Context, principal *auth.Principal, runID int64) error {
	_, err := checkUserRun(s.db.WithContext(ctx), runID, principal)
	return err
}

// Pickup claims the run's current stage slot for the caller. The slot
// is set only when empty; a second pickup conflicts.
func (s *RunService) Pickup(ctx context.Context, principal *auth.Principal, runID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run model.PipelineRun
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "run_id = ?", runID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(fmt.Sprintf("run %d not found", runID))
		}
		if err != nil {
			return apperr.Storage(err, "failed to lock run")
		}

		if !principal.IsAdmin() && !principal.HasRole(run.WorkflowOperation) {
			return apperr.Unauthorized(fmt.Sprintf("user %s lacks the %s role",
				principal.Username, run.WorkflowOperation))
		}

		slot, err := model.StageSlotColumn(run.WorkflowOperation)
		if err != nil {
			return apperr.BadRequest(err.Error())
		}

		result := tx.Model(&model.PipelineRun{}).
			Where(fmt.Sprintf("run_id = ? AND %s IS NULL", slot), runID).
			Updates(map[string]any{
				slot:              principal.UserID,
				"operation_state": model.OperationStateActive,
			})
		if result.Error != nil {
			return apperr.Storage(result.Error, "failed to pick up run")
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict(fmt.Sprintf("run %d already picked up at stage %s", runID, run.WorkflowOperation))
		}
		return nil
	})
}
