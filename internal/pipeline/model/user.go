package model

// AdminRole is the role name that bypasses run-ownership checks.
const AdminRole = "admin"

// User represents an application account. Accounts are never deleted,
// only deactivated.
type User struct {
	UserID       int64  `gorm:"column:user_id;primaryKey;autoIncrement" json:"userId"`
	Username     string `gorm:"type:varchar(64);column:username;not null;unique" json:"username"`
	PasswordHash string `gorm:"type:varchar(100);column:password_hash;not null" json:"-"`
	FullName     string `gorm:"type:varchar(255);column:full_name;not null" json:"fullName"`
	Active       bool   `gorm:"column:active;not null;default:true" json:"active"`
	Roles        []Role `gorm:"many2many:user_roles;foreignKey:UserID;joinForeignKey:UserID;references:Name;joinReferences:RoleName" json:"roles"`
}

func (u *User) TableName() string {
	return "users"
}

// RoleNames returns the user's role names in catalog order.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	return names
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(name string) bool {
	for _, role := range u.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.HasRole(AdminRole)
}

// Role is a statically seeded authorization role.
type Role struct {
	Name        string `gorm:"type:varchar(64);column:name;primaryKey" json:"name"`
	Description string `gorm:"type:text;column:description" json:"description"`
}

func (r *Role) TableName() string {
	return "roles"
}
