package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/models"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

// RequireRole lets through sessions whose role ranks at least min. It runs after Session.
func RequireRole(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := SessionFromContext(c)
		if sess == nil {
			response.Error(c, appErrors.ErrSessionNotStarted)
			c.Abort()
			return
		}
		if !sess.Context().Role.AtLeast(min) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
