// README: Bearer-token auth; resolves the caller's uid and marketplace role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dukani/internal/infra"
	"dukani/internal/types"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

// Auth verifies the bearer token. A token without a role claim is a customer.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token", "code": "unauthorized"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token", "code": "unauthorized"})
			return
		}
		role := types.Role(token.Role())
		if role == "" {
			role = types.RoleCustomer
		}
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "unknown role", "code": "not_permitted"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) types.Role {
	if r, ok := c.Get(ctxRole); ok {
		if role, ok := r.(types.Role); ok {
			return role
		}
	}
	return ""
}

// Caller is the acting user for this request. viewAs is only honoured for
// admins; anything but "customer" is ignored.
func Caller(c *gin.Context, viewAs string) types.ActingUser {
	u := types.ActingUser{ID: types.ID(CallerUID(c)), Role: CallerRole(c)}
	if u.Role == types.RoleAdmin && types.Role(viewAs) == types.RoleCustomer {
		u.ViewAs = types.RoleCustomer
	}
	return u
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "not permitted", "code": "not_permitted"})
	}
}
