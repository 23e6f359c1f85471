package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const RoleAdmin = "ADMIN"

// RequireAdmin guards routes that act on behalf of the host platform, such as
// event emission. It must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role := Role(c); role != RoleAdmin {
			Logger(c).Warn("admin route denied", "project_id", ProjectID(c), "role", role, "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
