package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

// ContextSessionKey is the gin context key storing the engine session.
const ContextSessionKey = "session"

type sessionStarter interface {
	Start(ctx context.Context, identity service.Identity) (*service.Session, error)
}

// Session resolves the engine session of the caller, starting one on first use.
func Session(sessions sessionStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		sess, err := sessions.Start(c.Request.Context(), service.IdentityFromClaims(claims))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextSessionKey, sess)
		SetQuotaMeta(c, sess.Quota.State())
		c.Next()
	}
}

// SessionFromContext returns the session stored by Session.
func SessionFromContext(c *gin.Context) *service.Session {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	sess, _ := value.(*service.Session)
	return sess
}
