package cors

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// New returns a CORS middleware that honors a list of allowed origins. Entries may use
// a single "*" wildcard per host label, e.g. "https://*.example.com".
func New(allowedOrigins []string) gin.HandlerFunc {
	matcher := NewMatcher(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if matcher.Allows(origin) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
		} else if matcher.AllowAll() {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Matcher answers origin checks for both CORS and WebSocket upgrades.
type Matcher struct {
	exact    map[string]struct{}
	patterns []string
}

// NewMatcher builds a matcher; an empty list allows every origin.
func NewMatcher(allowedOrigins []string) *Matcher {
	m := &Matcher{exact: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		origin = strings.ToLower(strings.TrimRight(origin, "/"))
		if strings.Contains(origin, "*") {
			m.patterns = append(m.patterns, origin)
			continue
		}
		m.exact[origin] = struct{}{}
	}
	return m
}

// AllowAll reports whether no restriction was configured.
func (m *Matcher) AllowAll() bool {
	return len(m.exact) == 0 && len(m.patterns) == 0
}

// Allows reports whether origin may talk to the API.
func (m *Matcher) Allows(origin string) bool {
	if m.AllowAll() {
		return true
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, pattern := range m.patterns {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// HostPatterns returns host-only patterns ("*.example.com") suitable for WebSocket
// origin verification, which compares hosts rather than full origins.
func (m *Matcher) HostPatterns() []string {
	if m.AllowAll() {
		return []string{"*"}
	}
	hosts := make([]string, 0, len(m.exact)+len(m.patterns))
	for origin := range m.exact {
		hosts = append(hosts, stripScheme(origin))
	}
	for _, pattern := range m.patterns {
		hosts = append(hosts, stripScheme(pattern))
	}
	return hosts
}

func stripScheme(origin string) string {
	if idx := strings.Index(origin, "://"); idx >= 0 {
		return origin[idx+3:]
	}
	return origin
}
