// Package auth resolves request credentials to an authenticated
// principal and manages user accounts. Session storage itself lives
// with the front-end collaborator; this package only verifies the
// bearer token it issues.
package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// contextKey is where the middleware stores the principal in the gin
// context.
const contextKey = "authPrincipal"

// Principal is the authenticated caller of a request. It is passed as
// an explicit argument into the services; nothing reads it from
// ambient storage.
type Principal struct {
	UserID   int64    `json:"userId"`
	Username string   `json:"username"`
	FullName string   `json:"fullName"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(name string) bool {
	for _, role := range p.Roles {
		if role == name {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p.HasRole(model.AdminRole)
}

// FromContext returns the request's principal, or nil when the request
// carried no valid token.
func FromContext(c *gin.Context) *Principal {
	value, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	principal, ok := value.(*Principal)
	if !ok {
		return nil
	}
	return principal
}

func setPrincipal(c *gin.Context, principal *Principal) {
	c.Set(contextKey, principal)
}
