package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminOnly ensures the session role is admin. Must run after RequireLogin
// (an anonymous session is rejected there first).
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := currentSession(c)
		if !ok || !sess.IsAdmin() {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "Admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}
