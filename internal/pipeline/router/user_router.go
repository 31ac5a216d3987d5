package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// UserRouter serves login plus the admin-only account operations.
type UserRouter struct {
	as     *auth.Service
	signer *auth.SignedTokenParser
}

// NewUserRouter creates a new UserRouter instance.
func NewUserRouter(as *auth.Service, signer *auth.SignedTokenParser) *UserRouter {
	return &UserRouter{as: as, signer: signer}
}

// Register mounts the login route on the open group and the account
// routes on the admin group.
func (ur *UserRouter) Register(open, admin *gin.RouterGroup) {
	open.POST("/login", ur.HandleLogin)
	admin.GET("/users", ur.HandleListUsers)
	admin.POST("/users", ur.HandleCreateUser)
	admin.PATCH("/users/:userId/roles", ur.HandleUpdateRoles)
	admin.DELETE("/users/:userId", ur.HandleDeactivateUser)
}

// HandleLogin handles POST /api/login. A valid credential pair answers
// the signed bearer token and the principal.
func (ur *UserRouter) HandleLogin(c *gin.Context) {
	var dto model.LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		writeError(c, apperr.BadRequest("username and password are required"))
		return
	}

	principal, err := ur.as.Authenticate(c.Request.Context(), dto.Username, dto.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     ur.signer.Sign(principal.Username),
		"principal": principal,
	})
}

// HandleListUsers handles GET /api/users.
func (ur *UserRouter) HandleListUsers(c *gin.Context) {
	users, err := ur.as.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// HandleCreateUser handles POST /api/users.
func (ur *UserRouter) HandleCreateUser(c *gin.Context) {
	var dto model.CreateUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		writeError(c, apperr.BadRequest("username, fullName, password and roles are required"))
		return
	}

	user, err := ur.as.CreateUser(c.Request.Context(), &dto)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// HandleUpdateRoles handles PATCH /api/users/{userId}/roles.
func (ur *UserRouter) HandleUpdateRoles(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	var dto model.UpdateUserRolesDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		writeError(c, apperr.BadRequest("roles are required"))
		return
	}

	if err := ur.as.UpdateRoles(c.Request.Context(), userID, dto.Roles); err != nil {
		writeError(c, err)
		return
	}
	writeSuccess(c, "Roles updated")
}

// HandleDeactivateUser handles DELETE /api/users/{userId}.
func (ur *UserRouter) HandleDeactivateUser(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if err := ur.as.Deactivate(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	writeSuccess(c, "Deactivated")
}
