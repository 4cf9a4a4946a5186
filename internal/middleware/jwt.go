package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/models"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/logger"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

// ContextIdentityKey is the gin context key storing identity token claims.
const ContextIdentityKey = "identity"

// tokenQueryParam carries the identity token of WebSocket upgrades, which cannot set
// headers from a browser.
const tokenQueryParam = "access_token"

type tokenValidator interface {
	ValidateToken(token string) (*models.IdentityClaims, error)
}

// JWT protects routes by requiring a valid identity token.
func JWT(auth tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, claims)
		c.Set(logger.UIDKey, claims.UID())
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query(tokenQueryParam); token != "" {
			return token, nil
		}
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ClaimsFromContext returns the claims stored by JWT.
func ClaimsFromContext(c *gin.Context) *models.IdentityClaims {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.IdentityClaims)
	return claims
}
