package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/models"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

// RequireRoles admits callers holding at least one of the given roles. It is a coarse
// route guard; per-request rules still live in the authorization gate.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.Session().HasRole(roles...) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff admits employees, admins and superadmins.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(models.RoleEmployee, models.RoleAdmin, models.RoleSuperAdmin)
}
