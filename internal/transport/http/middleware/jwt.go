package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docqa/internal/pkg/jwtutil"
	"docqa/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
)

// AuthJWT rejects requests without a valid bearer token and stores the
// caller's id (uint) and username in the gin context.
func AuthJWT(secret string) gin.HandlerFunc {
	return authJWT(secret, func(c *gin.Context, reason string) {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, reason)
	})
}

// RequireUser is AuthJWT for the document routes, which reject with a flat
// {"message":"Unauthorized"} body.
func RequireUser(secret string) gin.HandlerFunc {
	return authJWT(secret, func(c *gin.Context, _ string) {
		response.Message(c, http.StatusUnauthorized, response.MessageUnauthorized)
	})
}

func authJWT(secret string, deny func(c *gin.Context, reason string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			deny(c, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			deny(c, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil || claims.UserID == 0 {
			deny(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

// UserID returns the id AuthJWT stored, if any.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
