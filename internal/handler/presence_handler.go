package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/pkg/response"
)

type presenceView struct {
	models.PresenceEntry
	Active bool `json:"active"`
}

// PresenceHandler exposes who is signed in and the profile directory. Admin routes.
type PresenceHandler struct{}

// NewPresenceHandler builds a new handler.
func NewPresenceHandler() *PresenceHandler {
	return &PresenceHandler{}
}

// Presence godoc
// @Summary List presence entries with their online state
// @Tags Presence
// @Produce json
// @Security BearerAuth
// @Param online query bool false "Only entries inside the online window"
// @Success 200 {object} response.Envelope
// @Router /presence [get]
func (h *PresenceHandler) Presence(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	now := sess.Now()
	online := make(map[string]struct{})
	for _, e := range sess.Presence.Online(now) {
		online[e.UID] = struct{}{}
	}
	onlyOnline := c.Query("online") == "true"

	entries := sess.Presence.Entries()
	out := make([]presenceView, 0, len(entries))
	for _, e := range entries {
		_, active := online[e.UID]
		if onlyOnline && !active {
			continue
		}
		out = append(out, presenceView{PresenceEntry: e, Active: active})
	}
	response.JSON(c, http.StatusOK, out, nil, map[string]interface{}{"online": len(online)})
}

// Profiles godoc
// @Summary List user profiles
// @Tags Presence
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /profiles [get]
func (h *PresenceHandler) Profiles(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, sess.Profiles(), nil, middleware.ExtractMeta(c))
}
