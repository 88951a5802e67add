// README: Firebase ID-token auth middleware and caller accessors.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kottu/internal/infra"
)

const (
	ctxUID    = "auth.uid"
	ctxRole   = "auth.role"
	ctxTenant = "auth.tenant"

	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleKitchen = "kitchen"
)

// Auth verifies the bearer token and stores the caller's uid, role and
// restaurant on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, token.Role())
		c.Set(ctxTenant, token.TenantID())
		c.Next()
	}
}

func CallerUID(c *gin.Context) string    { return c.GetString(ctxUID) }
func CallerRole(c *gin.Context) string   { return c.GetString(ctxRole) }
func CallerTenant(c *gin.Context) string { return c.GetString(ctxTenant) }

// TenantAccess lets a caller through only for their own restaurant, taken from
// the named path parameter. Admins may access any restaurant.
func TenantAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) == RoleAdmin {
			c.Next()
			return
		}
		tenant := CallerTenant(c)
		if tenant == "" || tenant != c.Param(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no access to this restaurant"})
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed. Admins always pass.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}
