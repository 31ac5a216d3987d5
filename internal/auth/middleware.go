package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware resolves the Authorization header to a principal and
// stores it in the gin context. Requests without a valid token proceed
// without a principal; RequireAuth decides whether that is acceptable
// per route.
func Middleware(service *Service, parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			slog.Debug("authorization header is not a bearer token")
			c.Next()
			return
		}

		username, err := parser.Parse(token)
		if err != nil {
			slog.Warn("failed to parse bearer token", "error", err)
			c.Next()
			return
		}

		principal, err := service.GetPrincipal(c.Request.Context(), username)
		if err != nil {
			slog.Warn("failed to resolve principal", "username", username, "error", err)
			c.Next()
			return
		}

		setPrincipal(c, principal)
		c.Next()
	}
}

// RequireAuth aborts with 401 when the request carries no principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if FromContext(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireRole aborts with 401 unless the principal carries the role or
// is an admin.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := FromContext(c)
		if principal == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !principal.IsAdmin() && !principal.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}
