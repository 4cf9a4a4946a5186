package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/export"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

type candidateService interface {
	Save(ctx context.Context, sess *service.Session, req dto.SaveCandidateRequest, isNew bool) (*dto.CandidateView, error)
	Delete(ctx context.Context, sess *service.Session, id string) error
	List(sess *service.Session, query dto.ListCandidatesQuery) (*dto.CandidatePage, error)
	Get(sess *service.Session, id string) (*dto.CandidateView, error)
	Summary(sess *service.Session, id string) (*dto.CandidateSummary, error)
	Export(sess *service.Session, query dto.ListCandidatesQuery) (export.Table, error)
}

// CandidateHandler exposes candidate intents and reconciled views.
type CandidateHandler struct {
	service  candidateService
	exporter *export.CSVExporter
}

// NewCandidateHandler builds a new handler.
func NewCandidateHandler(service candidateService) *CandidateHandler {
	return &CandidateHandler{service: service, exporter: export.NewCSVExporter(true)}
}

// List godoc
// @Summary List reconciled candidates
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param search query string false "Name, national id or interviewer"
// @Param sort query string false "newest, oldest or name"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /candidates [get]
func (h *CandidateHandler) List(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var query dto.ListCandidatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	page, err := h.service.List(sess, query)
	if err != nil {
		fail(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Items, &models.Pagination{
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
	}, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get one reconciled candidate
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id} [get]
func (h *CandidateHandler) Get(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	view, err := h.service.Get(sess, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Create a candidate
// @Tags Candidates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SaveCandidateRequest true "Candidate"
// @Success 202 {object} response.Envelope
// @Router /candidates [post]
func (h *CandidateHandler) Create(c *gin.Context) {
	h.save(c, true)
}

// Update godoc
// @Summary Update a candidate
// @Tags Candidates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SaveCandidateRequest true "Candidate"
// @Success 202 {object} response.Envelope
// @Router /candidates [put]
func (h *CandidateHandler) Update(c *gin.Context) {
	h.save(c, false)
}

func (h *CandidateHandler) save(c *gin.Context, isNew bool) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.SaveCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid candidate payload"))
		return
	}
	if id := c.Param("id"); id != "" {
		req.ID = id
	}
	view, err := h.service.Save(c.Request.Context(), sess, req, isNew)
	if err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, view)
}

// Delete godoc
// @Summary Delete a candidate
// @Tags Candidates
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 204
// @Router /candidates/{id} [delete]
func (h *CandidateHandler) Delete(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), sess, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Resolve the summary of a candidate
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id}/summary [get]
func (h *CandidateHandler) Summary(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	summary, err := h.service.Summary(sess, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download the reconciled candidates as CSV
// @Tags Candidates
// @Produce text/csv
// @Security BearerAuth
// @Param search query string false "Name, national id or interviewer"
// @Param sort query string false "newest, oldest or name"
// @Success 200 {string} string "CSV file"
// @Router /candidates/export [get]
func (h *CandidateHandler) Export(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var query dto.ListCandidatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	table, err := h.service.Export(sess, query)
	if err != nil {
		fail(c, err)
		return
	}
	filename := fmt.Sprintf("candidates-%s.csv", sess.Now().In(sess.Location()).Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", h.exporter.ContentType())
	c.Status(http.StatusOK)
	if err := h.exporter.Write(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}
