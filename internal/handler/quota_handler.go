package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

// QuotaHandler exposes the quota state and the lock countdown.
type QuotaHandler struct {
	printer *message.Printer
}

// NewQuotaHandler builds a handler rendering countdowns for lang.
func NewQuotaHandler(lang language.Tag) *QuotaHandler {
	return &QuotaHandler{printer: message.NewPrinter(lang)}
}

// Get godoc
// @Summary Get the quota state of the session
// @Tags Quota
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /quota [get]
func (h *QuotaHandler) Get(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, h.view(sess.Quota.State(), sess.Now()), nil, middleware.ExtractMeta(c))
}

// Reload godoc
// @Summary Reset local counters and reopen feeds dropped by a lock
// @Tags Quota
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /quota/reload [post]
func (h *QuotaHandler) Reload(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	sess.Reload()
	response.JSON(c, http.StatusOK, h.view(sess.Quota.State(), sess.Now()), nil)
}

func (h *QuotaHandler) view(state models.QuotaState, now time.Time) dto.QuotaResponse {
	out := dto.QuotaResponse{QuotaState: state}
	if remaining := state.RemainingMs(now.UnixMilli()); remaining > 0 {
		out.Countdown = h.Countdown(time.Duration(remaining) * time.Millisecond)
	}
	return out
}

// Countdown renders d as hours:minutes:seconds, rounding seconds up.
func (h *QuotaHandler) Countdown(d time.Duration) string {
	total := int64((d + time.Second - 1) / time.Second)
	if total < 0 {
		total = 0
	}
	return h.printer.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
