package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

// RequireScope is a middleware that checks the grant set by BearerAuth
// names every required scope.
func RequireScope(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		grant, ok := GrantFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewOAuth2Error("invalid_token",
				"Request is not authenticated"))
			return
		}

		for _, scope := range required {
			if !grant.Scope.Contains(scope) {
				c.Header("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+scope+`"`)
				c.AbortWithStatusJSON(http.StatusForbidden, models.NewOAuth2Error("insufficient_scope",
					"The access token does not grant scope "+scope))
				return
			}
		}

		c.Next()
	}
}
