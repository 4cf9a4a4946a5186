package models

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims are the claims of an identity token issued by the external auth
// provider. The subject is the uid.
type IdentityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the subject of the token.
func (c *IdentityClaims) UID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
