package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

func TestPresenceHandlerProfiles(t *testing.T) {
	reg, _ := newRegistry(t)
	admin := startSession(t, reg, service.Identity{UID: "root", Email: "root@example.com"})
	startSession(t, reg, service.Identity{UID: "t1", Email: "sara@example.com"})
	h := NewPresenceHandler()

	require.Eventually(t, func() bool { return len(admin.Profiles()) == 2 }, 2*time.Second, 10*time.Millisecond)

	c, w := newContext(http.MethodGet, "/profiles", nil, admin)
	h.Profiles(c)
	require.Equal(t, http.StatusOK, w.Code)
	var profiles []models.Profile
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &profiles))
	assert.Len(t, profiles, 2)

	c, w = newContext(http.MethodGet, "/presence?online=true", nil, admin)
	h.Presence(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w).Meta, "online")
}

func TestAuditHandlerList(t *testing.T) {
	reg, _ := newRegistry(t)
	sess := startSession(t, reg, service.Identity{UID: "t1", Email: "sara@example.com"})
	sess.Audit.Record(models.AuditKindCandidate, models.AuditActionCreate, nil)
	h := NewAuditHandler()

	c, w := newContext(http.MethodGet, "/audit?limit=1", nil, sess)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.AuditEntry
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionCreate, entries[0].Action)

	c, w = newContext(http.MethodGet, "/audit?limit=5000", nil, sess)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, w).Error.Code)
}
