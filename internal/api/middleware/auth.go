// Package middleware provides HTTP middleware for the doni REST API:
// authentication, rate limiting, request logging, metrics, and CORS handling.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/models"
)

// HeaderAuthToken is the header API tokens are presented in.
const HeaderAuthToken = "X-Auth-Token"

// contextKeyToken is the gin context key the authenticated token is stored
// under.
const contextKeyToken = "api_token"

// respondAuthError sends a generic authentication failure. The message never
// distinguishes missing, malformed, and revoked tokens.
func respondAuthError(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "Authentication failed",
	})
	c.Abort()
}

// RequireAPIToken authenticates the X-Auth-Token header against the token
// store and puts the resolved token into the request context.
func RequireAPIToken(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(HeaderAuthToken)
		if provided == "" {
			respondAuthError(c)
			return
		}

		authed, err := tokens.Authenticate(c.Request.Context(), provided)
		if err != nil {
			respondAuthError(c)
			return
		}

		c.Set(contextKeyToken, authed)
		c.Set("project_id", authed.ProjectID)
		c.Set("is_admin", authed.IsAdmin())

		c.Next()
	}
}

// RequireAdmin rejects non-admin callers. Use after RequireAPIToken.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := GetAPIToken(c)
		if token == nil || !token.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin privileges required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetAPIToken returns the authenticated token from the gin context, or nil on
// unauthenticated routes.
func GetAPIToken(c *gin.Context) *models.APIToken {
	if val, exists := c.Get(contextKeyToken); exists {
		if token, ok := val.(*models.APIToken); ok {
			return token
		}
	}
	return nil
}
