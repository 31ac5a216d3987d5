package model

import (
	"fmt"
	"time"
)

// PipelineRun is one instance of a data source moving through the
// workflow stages. Each stage has its own nullable owner slot; "pickup"
// claims the slot for the run's current stage.
type PipelineRun struct {
	RunID             int64          `gorm:"column:run_id;primaryKey;autoIncrement" json:"runId"`
	DataSourceID      int64          `gorm:"column:ds_id;not null" json:"dsId"`
	RecordDate        time.Time      `gorm:"type:date;column:record_date;not null" json:"recordDate"`
	WorkflowOperation string         `gorm:"type:varchar(20);column:workflow_operation;not null" json:"workflowOperation"`
	OperationState    OperationState `gorm:"type:operation_state;column:operation_state;not null;default:Ready" json:"operationState"`
	CollectionUserID  *int64         `gorm:"column:collection_user_id" json:"collectionUserId,omitempty"`
	LoadUserID        *int64         `gorm:"column:load_user_id" json:"loadUserId,omitempty"`
	CheckUserID       *int64         `gorm:"column:check_user_id" json:"checkUserId,omitempty"`
	QAUserID          *int64         `gorm:"column:qa_user_id" json:"qaUserId,omitempty"`

	CollectionUser *User `gorm:"foreignKey:CollectionUserID;references:UserID" json:"collectionUser,omitempty"`
	LoadUser       *User `gorm:"foreignKey:LoadUserID;references:UserID" json:"loadUser,omitempty"`
	CheckUser      *User `gorm:"foreignKey:CheckUserID;references:UserID" json:"checkUser,omitempty"`
	QAUser         *User `gorm:"foreignKey:QAUserID;references:UserID" json:"qaUser,omitempty"`
}

func (p *PipelineRun) TableName() string {
	return "pipeline_runs"
}

// StageSlotColumn returns the owner slot column for a workflow stage code.
func StageSlotColumn(workflowCode string) (string, error) {
	switch workflowCode {
	case WorkflowCodeCollection:
		return "collection_user_id", nil
	case WorkflowCodeLoad:
		return "load_user_id", nil
	case WorkflowCodeCheck:
		return "check_user_id", nil
	case WorkflowCodeQA:
		return "qa_user_id", nil
	default:
		return "", fmt.Errorf("unknown workflow code %q", workflowCode)
	}
}

// StageOwnerID returns the user id owning the run's current stage slot,
// or nil when the stage has not been picked up.
func (p *PipelineRun) StageOwnerID() *int64 {
	switch p.WorkflowOperation {
	case WorkflowCodeCollection:
		return p.CollectionUserID
	case WorkflowCodeLoad:
		return p.LoadUserID
	case WorkflowCodeCheck:
		return p.CheckUserID
	case WorkflowCodeQA:
		return p.QAUserID
	default:
		return nil
	}
}
