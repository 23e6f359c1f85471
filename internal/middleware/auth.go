package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/hookq/pkg/auth"

	"github.com/gin-gonic/gin"
)

const (
	ctxClaims    = "userClaims"
	ctxEmail     = "userEmail"
	ctxRole      = "userRole"
	ctxProjectID = "projectID"
)

// AuthMiddleware validates the bearer token and stores the caller's project
// scope and role on the gin context. allowRoleHeader lets X-Role stand in for
// a missing role claim and is meant for dev only.
func AuthMiddleware(validator auth.Validator, allowRoleHeader bool) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		projectID := extractProjectID(claims)
		if projectID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no project scope"})
			return
		}
		c.Set(ctxClaims, claims)
		c.Set(ctxProjectID, projectID)

		email := strings.TrimSpace(claims.Email)
		if email == "" {
			email = strings.TrimSpace(claims.Subject)
		}
		c.Set(ctxEmail, email)

		role := strings.ToUpper(claims.String("role"))
		if role == "" && allowRoleHeader {
			role = strings.ToUpper(strings.TrimSpace(c.GetHeader("X-Role")))
		}
		if role == "" {
			role = "USER"
		}
		c.Set(ctxRole, role)
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(parts[1])
}

// projectClaimKeys are checked in order; the token subject is the fallback
// for single-project deployments.
var projectClaimKeys = []string{"projectId", "tenantId", "tenant_id", "organizationId", "organization_id"}

func extractProjectID(claims *auth.Claims) string {
	if claims == nil {
		return ""
	}
	for _, k := range projectClaimKeys {
		if v := claims.String(k); v != "" {
			return v
		}
	}
	return strings.TrimSpace(claims.Subject)
}

// ProjectID returns the project scope set by AuthMiddleware.
func ProjectID(c *gin.Context) string {
	return c.GetString(ctxProjectID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}
