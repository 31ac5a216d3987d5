package model

import "fmt"

// Workflow stage codes, in run progression order.
const (
	WorkflowCodeCollection = "collection"
	WorkflowCodeLoad       = "load"
	WorkflowCodeCheck      = "check"
	WorkflowCodeQA         = "qa"
)

// OperationState represents whether a run's current stage has been picked up.
type OperationState string

const (
	OperationStateReady  OperationState = "Ready"  // Stage has no owner yet
	OperationStateActive OperationState = "Active" // Stage picked up by a user
)

// WorkflowOperation is a statically seeded workflow stage definition.
type WorkflowOperation struct {
	Code           string `gorm:"type:varchar(20);column:workflow_code;primaryKey" json:"workflowCode"`
	OperationOrder int    `gorm:"column:operation_order;not null" json:"operationOrder"`
	Href           string `gorm:"type:varchar(255);column:href;not null" json:"href"`
	Name           string `gorm:"type:varchar(100);column:name;not null" json:"name"`
	Role           string `gorm:"type:varchar(64);column:role;not null" json:"role"`
}

func (w *WorkflowOperation) TableName() string {
	return "workflow_operations"
}

// Action is a statically seeded UI action offered to a role when a run
// is in a given operation state.
type Action struct {
	ActionOID int64          `gorm:"column:action_oid;primaryKey;autoIncrement" json:"actionOid"`
	Role      string         `gorm:"type:varchar(64);column:role;not null" json:"role"`
	State     OperationState `gorm:"type:operation_state;column:state;not null" json:"state"`
	Href      string         `gorm:"type:varchar(255);column:href;not null" json:"href"`
	Label     string         `gorm:"type:varchar(100);column:label;not null" json:"label"`
}

func (a *Action) TableName() string {
	return "actions"
}

// ParseOperationState validates a raw operation state value.
func ParseOperationState(value string) (OperationState, error) {
	switch OperationState(value) {
	case OperationStateReady, OperationStateActive:
		return OperationState(value), nil
	default:
		return "", fmt.Errorf("unknown operation state %q", value)
	}
}
