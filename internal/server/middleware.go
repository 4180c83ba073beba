package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	contextTokenKey  = "auth_token"
	contextUserIDKey = "auth_user_id"
)

// IdentityMiddleware extracts the caller's bearer token and the
// gateway-asserted user id. The token is passed through to collaborators;
// this service never validates it itself.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			c.Set(contextTokenKey, strings.TrimSpace(authorization[len("bearer "):]))
		}
		if userID := strings.TrimSpace(c.GetHeader("X-User-Id")); userID != "" {
			c.Set(contextUserIDKey, userID)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	return c.GetString(contextTokenKey)
}

func userID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
