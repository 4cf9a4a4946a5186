package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/models"
)

const (
	responseMetaKey = "response_meta"
	quotaMetaKey    = "quota"
)

// WithResponseMeta initialises response metadata storage on the request context.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
		meta := ensureMeta(c)
		if _, exists := meta["processing_time_ms"]; !exists {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetQuotaMeta records the quota state the request was served under.
func SetQuotaMeta(c *gin.Context, state models.QuotaState) {
	meta := ensureMeta(c)
	meta[quotaMetaKey] = map[string]interface{}{
		"readsUsed":  state.ReadsUsed,
		"writesUsed": state.WritesUsed,
		"locked":     state.Locked,
		"warn":       state.Warn,
	}
	if state.Locked {
		meta["lockedUntilMs"] = state.LockedUntilMs
	}
}

// ExtractMeta returns the metadata map stored on the context.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	newMeta := make(map[string]interface{})
	c.Set(responseMetaKey, newMeta)
	return newMeta
}
