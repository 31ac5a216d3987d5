package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the execution state of a pipeline run task.
type TaskStatus string

const (
	TaskStatusWaiting   TaskStatus = "Waiting"
	TaskStatusScheduled TaskStatus = "Scheduled"
	TaskStatusRunning   TaskStatus = "Running"
	TaskStatusComplete  TaskStatus = "Complete"
	TaskStatusFailed    TaskStatus = "Failed"
)

// ParseTaskStatus validates a raw task status value.
func ParseTaskStatus(value string) (TaskStatus, error) {
	switch TaskStatus(value) {
	case TaskStatusWaiting, TaskStatusScheduled, TaskStatusRunning, TaskStatusComplete, TaskStatusFailed:
		return TaskStatus(value), nil
	default:
		return "", fmt.Errorf("unknown task status %q", value)
	}
}

// CanTransitionTo reports whether the status machine permits moving from
// the current status to next. Waiting tasks are scheduled or started,
// Scheduled tasks start or fail, Running tasks terminate, and terminal
// tasks only go back to Waiting through a reset.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusWaiting:
		return next == TaskStatusScheduled || next == TaskStatusRunning
	case TaskStatusScheduled:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusComplete || next == TaskStatusFailed
	case TaskStatusComplete, TaskStatusFailed:
		return next == TaskStatusWaiting
	default:
		return false
	}
}

// Terminal reports whether the status ends a task's execution.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed
}

// Task is a statically seeded catalog entry describing one kind of
// pipeline step. TaskClass keys the compile-time registry that supplies
// the runnable implementation.
type Task struct {
	TaskID       int64  `gorm:"column:task_id;primaryKey" json:"taskId"`
	Name         string `gorm:"type:varchar(100);column:name;not null" json:"name"`
	Description  string `gorm:"type:text;column:description" json:"description"`
	TaskClass    string `gorm:"type:varchar(100);column:task_class;not null;unique" json:"taskClass"`
	WorkflowCode string `gorm:"type:varchar(20);column:workflow_code;not null" json:"workflowCode"`
}

func (t *Task) TableName() string {
	return "tasks"
}

// PipelineRunTask is one ordered step of a pipeline run.
type PipelineRunTask struct {
	PrTaskID      int64      `gorm:"column:pr_task_id;primaryKey;autoIncrement" json:"prTaskId"`
	RunID         int64      `gorm:"column:run_id;not null" json:"runId"`
	TaskID        int64      `gorm:"column:task_id;not null" json:"taskId"`
	WorkflowOrder int        `gorm:"column:workflow_order;not null" json:"workflowOrder"`
	TaskStatus    TaskStatus `gorm:"type:task_status;column:task_status;not null;default:Waiting" json:"taskStatus"`
	TaskRunning   bool       `gorm:"column:task_running;not null;default:false" json:"taskRunning"`
	TaskComplete  bool       `gorm:"column:task_complete;not null;default:false" json:"taskComplete"`
	TaskStart     *time.Time `gorm:"type:timestamptz;column:task_start" json:"taskStart,omitempty"`
	TaskCompleted *time.Time `gorm:"type:timestamptz;column:task_completed" json:"taskCompleted,omitempty"`
	TaskMessage   *string    `gorm:"type:text;column:task_message" json:"taskMessage,omitempty"`
	ParentTaskID  *int64     `gorm:"column:parent_task_id" json:"parentTaskId,omitempty"`

	Task Task `gorm:"foreignKey:TaskID;references:TaskID" json:"task"`
}

func (t *PipelineRunTask) TableName() string {
	return "pipeline_run_tasks"
}
