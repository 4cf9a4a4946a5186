package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

func sessionFromContext(c *gin.Context) (*service.Session, bool) {
	sess := middleware.SessionFromContext(c)
	if sess == nil {
		response.Error(c, appErrors.ErrSessionNotStarted)
		return nil, false
	}
	return sess, true
}

// fail writes err, attaching the lock deadline when the session is locked.
func fail(c *gin.Context, err error) {
	meta := middleware.ExtractMeta(c)
	var lockErr *service.LockError
	if errors.As(err, &lockErr) {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["lockedUntilMs"] = lockErr.State.LockedUntilMs
		meta["lockedReason"] = lockErr.State.LockedReason
		meta["remainingMs"] = lockErr.RemainingMs
	}
	response.Error(c, err, meta)
}
