package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

type sessionStopper interface {
	Stop(uid string) bool
}

// SessionHandler exposes the lifecycle of engine sessions.
type SessionHandler struct {
	sessions sessionStopper
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(sessions sessionStopper) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Start godoc
// @Summary Start or resume the engine session of the caller
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /session [post]
func (h *SessionHandler) Start(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, sessionView(sess), nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Describe the engine session of the caller
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) Get(c *gin.Context) {
	h.Start(c)
}

// End godoc
// @Summary Sign out and stop the engine session
// @Tags Session
// @Security BearerAuth
// @Success 204
// @Router /session [delete]
func (h *SessionHandler) End(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !h.sessions.Stop(claims.UID()) {
		response.Error(c, appErrors.ErrSessionNotStarted)
		return
	}
	response.NoContent(c)
}

func sessionView(sess *service.Session) dto.SessionResponse {
	sc := sess.Context()
	active := sess.Subs.Active()
	topics := make([]string, 0, len(active))
	for _, topic := range active {
		topics = append(topics, string(topic))
	}
	return dto.SessionResponse{
		UID:        sc.UID,
		Email:      sc.Email,
		Username:   sc.Username,
		Role:       sc.Role,
		SortOrder:  sess.Profile().Preferences.SortOrder,
		Quota:      sess.Quota.State(),
		Topics:     topics,
		FeedErrors: sess.FeedErrors(),
	}
}
