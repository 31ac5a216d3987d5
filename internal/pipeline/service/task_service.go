// Package service implements the pipeline engine: task execution and
// ordering, run listing and pickup, and source-table management. All
// state lives in the database; services are safe for concurrent use
// from any number of request handlers and workers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
	"github.com/OpenPipe/pipeline/internal/queue"
	"github.com/OpenPipe/pipeline/internal/task"
)

// ErrTaskLocked reports that another worker holds the task row lock.
// The claiming worker abandons the job back to the queue.
var ErrTaskLocked = errors.New("task row locked by another worker")

// TaskService is the task execution engine. It owns every status
// transition of pipeline run tasks and the scheduling of system-task
// jobs.
type TaskService struct {
	db       *gorm.DB
	queue    *queue.Queue
	registry *task.Registry
}

// NewTaskService creates the engine over the given queue and catalog.
func NewTaskService(db *gorm.DB, q *queue.Queue, registry *task.Registry) *TaskService {
	return &TaskService{db: db, queue: q, registry: registry}
}

// GetOrderedTasks returns a run's tasks in execution order.
func (s *TaskService) GetOrderedTasks(ctx context.Context, runID int64) ([]model.PipelineRunTask, error) {
	if _, err := getRun(s.db.WithContext(ctx), runID); err != nil {
		return nil, err
	}

	var tasks []model.PipelineRunTask
	err := s.db.WithContext(ctx).
		Preload("Task").
		Where("run_id = ?", runID).
		Order("workflow_order, pr_task_id").
		Find(&tasks).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to load run tasks")
	}
	return tasks, nil
}

// GetRecordForRun authorizes the caller against the run's stage slot
// and returns one task record.
func (s *TaskService) GetRecordForRun(ctx context.Context, principal *auth.Principal, runID, prTaskID int64) (*model.PipelineRunTask, error) {
	if _, err := checkUserRun(s.db.WithContext(ctx), runID, principal); err != nil {
		return nil, err
	}

	var rec model.PipelineRunTask
	err := s.db.WithContext(ctx).
		Preload("Task").
		Where("run_id = ? AND pr_task_id = ?", runID, prTaskID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("task %d not found in run %d", prTaskID, runID))
	}
	if err != nil {
		return nil, apperr.Storage(err, "failed to load task record")
	}
	return &rec, nil
}

// RunTask starts one task. A User task executes synchronously and the
// outcome is returned; a System task transitions to Scheduled with a
// job enqueued in the same transaction. The precondition that no other
// task of the run is Scheduled or Running is checked under row locks.
func (s *TaskService) RunTask(ctx context.Context, principal *auth.Principal, runID, prTaskID int64, runNext bool) (string, error) {
	var target model.PipelineRunTask
	var entry task.Entry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkUserRun(tx, runID, principal); err != nil {
			return err
		}

		var tasks []model.PipelineRunTask
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_id = ?", runID).
			Order("workflow_order, pr_task_id").
			Find(&tasks).Error; err != nil {
			return apperr.Storage(err, "failed to lock run tasks")
		}

		var found *model.PipelineRunTask
		for i := range tasks {
			if tasks[i].TaskStatus == model.TaskStatusScheduled || tasks[i].TaskStatus == model.TaskStatusRunning {
				return apperr.Conflict("Task already running")
			}
			if tasks[i].PrTaskID == prTaskID {
				found = &tasks[i]
			}
		}
		if found == nil {
			return apperr.NotFound(fmt.Sprintf("task %d not found in run %d", prTaskID, runID))
		}
		if found.TaskStatus != model.TaskStatusWaiting {
			return apperr.Conflict(fmt.Sprintf("task %d is %s, not Waiting", prTaskID, found.TaskStatus))
		}

		if err := tx.First(&found.Task, found.TaskID).Error; err != nil {
			return apperr.Storage(err, "failed to load task catalog entry")
		}
		var ok bool
		entry, ok = s.registry.Lookup(found.Task.TaskClass)
		if !ok {
			return apperr.Newf(apperr.KindStorage, "no implementation for task class %q", found.Task.TaskClass)
		}

		target = *found
		if entry.Kind == task.KindSystem {
			if err := setStatusTx(tx, prTaskID, model.TaskStatusScheduled, nil); err != nil {
				return err
			}
			return s.queue.EnqueueTx(tx, prTaskID, runID, found.Task.TaskClass, runNext)
		}
		// User task: take the Running state inside the lock so no
		// sibling can start while it executes after commit.
		return setStatusTx(tx, prTaskID, model.TaskStatusRunning, nil)
	})
	if err != nil {
		return "", err
	}

	if entry.Kind == task.KindSystem {
		return fmt.Sprintf("Scheduled %d", prTaskID), nil
	}
	return s.executeUserTask(ctx, &target)
}

// executeUserTask runs a User task synchronously and writes its
// terminal state.
func (s *TaskService) executeUserTask(ctx context.Context, rec *model.PipelineRunTask) (string, error) {
	if err := s.registry.Execute(ctx, rec); err != nil {
		message := err.Error()
		if failErr := s.FailTask(ctx, rec.PrTaskID, message); failErr != nil {
			slog.ErrorContext(ctx, "failed to record task failure",
				"pr_task_id", rec.PrTaskID, "error", failErr)
		}
		return "", err
	}
	if err := s.CompleteTask(ctx, rec.PrTaskID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Completed %d", rec.PrTaskID), nil
}

// ResetTask returns a terminal task to Waiting, clearing timestamps
// and message, and deletes child tasks spawned by previous executions.
func (s *TaskService) ResetTask(ctx context.Context, principal *auth.Principal, runID, prTaskID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkUserRun(tx, runID, principal); err != nil {
			return err
		}

		var rec model.PipelineRunTask
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_id = ? AND pr_task_id = ?", runID, prTaskID).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(fmt.Sprintf("task %d not found in run %d", prTaskID, runID))
		}
		if err != nil {
			return apperr.Storage(err, "failed to load task record")
		}
		if !rec.TaskStatus.Terminal() {
			return apperr.Conflict(fmt.Sprintf("task %d is %s and cannot be reset", prTaskID, rec.TaskStatus))
		}

		if err := tx.Where("parent_task_id = ?", prTaskID).Delete(&model.PipelineRunTask{}).Error; err != nil {
			return apperr.Storage(err, "failed to delete child tasks")
		}
		return setStatusTx(tx, prTaskID, model.TaskStatusWaiting, nil)
	})
}

// GetStatus reads a single task's status.
func (s *TaskService) GetStatus(ctx context.Context, prTaskID int64) (model.TaskStatus, error) {
	var rec model.PipelineRunTask
	err := s.db.WithContext(ctx).Select("task_status").First(&rec, prTaskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound(fmt.Sprintf("task %d not found", prTaskID))
	}
	if err != nil {
		return "", apperr.Storage(err, "failed to read task status")
	}
	return rec.TaskStatus, nil
}

// SetStatus writes one status transition, rejecting arcs the state
// machine does not permit.
func (s *TaskService) SetStatus(ctx context.Context, prTaskID int64, status model.TaskStatus, message *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return setStatusTx(tx, prTaskID, status, message)
	})
}

// ClaimTask is the worker-side transition Scheduled to Running. The
// row lock is taken NOWAIT: a second worker observing the same job
// gets ErrTaskLocked and abandons it.
func (s *TaskService) ClaimTask(ctx context.Context, prTaskID int64) (*model.PipelineRunTask, error) {
	var rec model.PipelineRunTask
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
			First(&rec, "pr_task_id = ?", prTaskID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(fmt.Sprintf("task %d not found", prTaskID))
		}
		if err != nil {
			// Postgres raises a lock_not_available error under NOWAIT.
			return ErrTaskLocked
		}
		if rec.TaskStatus != model.TaskStatusScheduled {
			return apperr.Conflict(fmt.Sprintf("task %d is %s, not Scheduled", prTaskID, rec.TaskStatus))
		}
		return setStatusTx(tx, prTaskID, model.TaskStatusRunning, nil)
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&rec.Task, rec.TaskID).Error; err != nil {
		return nil, apperr.Storage(err, "failed to load task catalog entry")
	}
	return &rec, nil
}

// CompleteTask writes the Complete state and advances the run's
// workflow stage when the stage has no unfinished tasks left.
func (s *TaskService) CompleteTask(ctx context.Context, prTaskID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setStatusTx(tx, prTaskID, model.TaskStatusComplete, nil); err != nil {
			return err
		}
		return advanceStageTx(tx, prTaskID)
	})
}

// FailTask writes the Failed state with the error summary.
func (s *TaskService) FailTask(ctx context.Context, prTaskID int64, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return setStatusTx(tx, prTaskID, model.TaskStatusFailed, &message)
	})
}

// ScheduleNext locates the run's next Waiting task. A System task is
// scheduled with the chain flag carried forward and true is returned;
// a User task (or no task) stops the chain.
func (s *TaskService) ScheduleNext(ctx context.Context, runID int64) (scheduled bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []model.PipelineRunTask
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_id = ?", runID).
			Order("workflow_order, pr_task_id").
			Find(&tasks).Error; err != nil {
			return apperr.Storage(err, "failed to lock run tasks")
		}

		var next *model.PipelineRunTask
		for i := range tasks {
			if tasks[i].TaskStatus == model.TaskStatusScheduled || tasks[i].TaskStatus == model.TaskStatusRunning {
				// Another task advanced in the meantime; leave the
				// chain to it.
				return nil
			}
			if next == nil && tasks[i].TaskStatus == model.TaskStatusWaiting {
				next = &tasks[i]
			}
		}
		if next == nil {
			return nil
		}

		if err := tx.First(&next.Task, next.TaskID).Error; err != nil {
			return apperr.Storage(err, "failed to load task catalog entry")
		}
		entry, ok := s.registry.Lookup(next.Task.TaskClass)
		if !ok || entry.Kind == task.KindUser {
			// Control returns to the user.
			return nil
		}

		if err := setStatusTx(tx, next.PrTaskID, model.TaskStatusScheduled, nil); err != nil {
			return err
		}
		if err := s.queue.EnqueueTx(tx, next.PrTaskID, runID, next.Task.TaskClass, true); err != nil {
			return err
		}
		scheduled = true
		return nil
	})
	return scheduled, err
}

// setStatusTx enforces the task state machine and writes the
// transition plus its dependent fields. The conditional WHERE keeps a
// racing writer from replaying a stale transition.
func setStatusTx(tx *gorm.DB, prTaskID int64, next model.TaskStatus, message *string) error {
	var rec model.PipelineRunTask
	err := tx.First(&rec, "pr_task_id = ?", prTaskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(fmt.Sprintf("task %d not found", prTaskID))
	}
	if err != nil {
		return apperr.Storage(err, "failed to load task record")
	}
	if !rec.TaskStatus.CanTransitionTo(next) {
		return apperr.Conflict(fmt.Sprintf("task %d cannot move from %s to %s", prTaskID, rec.TaskStatus, next))
	}

	now := time.Now().UTC()
	updates := map[string]any{"task_status": next}
	switch next {
	case model.TaskStatusScheduled:
		updates["task_message"] = nil
	case model.TaskStatusRunning:
		updates["task_start"] = now
		updates["task_running"] = true
	case model.TaskStatusComplete:
		updates["task_completed"] = now
		updates["task_running"] = false
		updates["task_complete"] = true
		updates["task_message"] = message
	case model.TaskStatusFailed:
		updates["task_completed"] = now
		updates["task_running"] = false
		updates["task_complete"] = false
		updates["task_message"] = message
	case model.TaskStatusWaiting:
		updates["task_start"] = nil
		updates["task_completed"] = nil
		updates["task_message"] = nil
		updates["task_running"] = false
		updates["task_complete"] = false
	}

	result := tx.Model(&model.PipelineRunTask{}).
		Where("pr_task_id = ? AND task_status = ?", prTaskID, rec.TaskStatus).
		Updates(updates)
	if result.Error != nil {
		return apperr.Storage(result.Error, "failed to write task status")
	}
	if result.RowsAffected == 0 {
		return apperr.Conflict(fmt.Sprintf("task %d changed state concurrently", prTaskID))
	}
	return nil
}

// advanceStageTx moves the run to its next workflow stage once every
// task of the current stage is complete.
func advanceStageTx(tx *gorm.DB, prTaskID int64) error {
	var rec model.PipelineRunTask
	if err := tx.First(&rec, "pr_task_id = ?", prTaskID).Error; err != nil {
		return apperr.Storage(err, "failed to load task record")
	}

	var run model.PipelineRun
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&run, "run_id = ?", rec.RunID).Error; err != nil {
		return apperr.Storage(err, "failed to load run")
	}

	var unfinished int64
	err := tx.Model(&model.PipelineRunTask{}).
		Joins("JOIN tasks ON tasks.task_id = pipeline_run_tasks.task_id").
		Where("pipeline_run_tasks.run_id = ? AND tasks.workflow_code = ? AND pipeline_run_tasks.task_status <> ?",
			run.RunID, run.WorkflowOperation, model.TaskStatusComplete).
		Count(&unfinished).Error
	if err != nil {
		return apperr.Storage(err, "failed to count stage tasks")
	}
	if unfinished > 0 {
		return nil
	}

	var current model.WorkflowOperation
	if err := tx.First(&current, "workflow_code = ?", run.WorkflowOperation).Error; err != nil {
		return apperr.Storage(err, "failed to load workflow operation")
	}
	var next model.WorkflowOperation
	err = tx.Where("operation_order > ?", current.OperationOrder).
		Order("operation_order").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Final stage finished; the run stays where it is.
		return nil
	}
	if err != nil {
		return apperr.Storage(err, "failed to load next workflow operation")
	}

	result := tx.Model(&model.PipelineRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]any{
			"workflow_operation": next.Code,
			"operation_state":    model.OperationStateReady,
		})
	if result.Error != nil {
		return apperr.Storage(result.Error, "failed to advance run stage")
	}
	slog.Info("run advanced to next stage", "run_id", run.RunID, "stage", next.Code)
	return nil
}

// getRun loads a run or reports NotFound.
func getRun(tx *gorm.DB, runID int64) (*model.PipelineRun, error) {
	var run model.PipelineRun
	err := tx.First(&run, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("run %d not found", runID))
	}
	if err != nil {
		return nil, apperr.Storage(err, "failed to load run")
	}
	return &run, nil
}

// checkUserRun confirms the principal owns the run's current stage
// slot; admins bypass the check.
func checkUserRun(tx *gorm.DB, runID int64, principal *auth.Principal) (*model.PipelineRun, error) {
	if principal == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	run, err := getRun(tx, runID)
	if err != nil {
		return nil, err
	}
	if principal.IsAdmin() {
		return run, nil
	}
	owner := run.StageOwnerID()
	if owner == nil || *owner != principal.UserID {
		return nil, apperr.Unauthorized(fmt.Sprintf("user %s does not own run %d at stage %s",
			principal.Username, runID, run.WorkflowOperation))
	}
	return run, nil
}
