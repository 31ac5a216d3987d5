package model

// LoginDTO carries a credential pair for session issue.
type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateUserDTO carries the fields required to register a user.
type CreateUserDTO struct {
	Username string   `json:"username" binding:"required"`
	FullName string   `json:"fullName" binding:"required"`
	Password string   `json:"password" binding:"required"`
	Roles    []string `json:"roles" binding:"required"`
}

// UpdateUserRolesDTO replaces a user's role set.
type UpdateUserRolesDTO struct {
	Roles []string `json:"roles" binding:"required"`
}

// TaskStatusResponse is the single-field body of the task status probe.
type TaskStatusResponse struct {
	Status TaskStatus `json:"status"`
}

// SourceTableResult reports the outcome of a source-table write.
type SourceTableResult struct {
	StOID        int64 `json:"stOid"`
	RowsAffected int64 `json:"rowsAffected"`
}
