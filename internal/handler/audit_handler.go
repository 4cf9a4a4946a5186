package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

const defaultAuditLimit = 200

// AuditHandler exposes the audit trail visible to the caller.
type AuditHandler struct{}

// NewAuditHandler builds a new handler.
func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

// List godoc
// @Summary List audit entries, newest first
// @Description Admins read the shared trail while its feed is healthy; everyone else reads the entries recorded by their own session.
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var query dto.AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil || query.Limit < 0 || query.Limit > 2000 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid limit"))
		return
	}
	limit := query.Limit
	if limit == 0 {
		limit = defaultAuditLimit
	}
	entries := sess.Audit.Entries(sess.Context().Role)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	response.JSON(c, http.StatusOK, entries, nil, middleware.ExtractMeta(c))
}
