package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

type configurationService interface {
	Get(sess *service.Session) (*dto.ConfigView, error)
	SavePatch(ctx context.Context, sess *service.Session, req dto.ConfigPatchRequest) (*dto.ConfigView, error)
}

// ConfigurationHandler exposes configuration endpoints.
type ConfigurationHandler struct {
	service configurationService
}

// NewConfigurationHandler builds a new handler.
func NewConfigurationHandler(service configurationService) *ConfigurationHandler {
	return &ConfigurationHandler{service: service}
}

// Get godoc
// @Summary Get the live configuration
// @Tags Configuration
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /config [get]
func (h *ConfigurationHandler) Get(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	view, err := h.service.Get(sess)
	if err != nil {
		fail(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}

// Patch godoc
// @Summary Patch questions, summary template or mention
// @Tags Configuration
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ConfigPatchRequest true "Configuration patch"
// @Success 202 {object} response.Envelope
// @Router /config [patch]
func (h *ConfigurationHandler) Patch(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.ConfigPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid configuration payload"))
		return
	}
	view, err := h.service.SavePatch(c.Request.Context(), sess, req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, view)
}
