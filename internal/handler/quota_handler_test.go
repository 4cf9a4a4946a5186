package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/service"
)

func TestQuotaCountdown(t *testing.T) {
	h := NewQuotaHandler(language.English)

	cases := map[time.Duration]string{
		0:                                     "00:00:00",
		1500 * time.Millisecond:               "00:00:02",
		time.Hour + time.Minute + time.Second: "01:01:01",
		26 * time.Hour:                        "26:00:00",
		-time.Second:                          "00:00:00",
	}
	for in, want := range cases {
		assert.Equal(t, want, h.Countdown(in), in.String())
	}
}

func TestQuotaHandlerGetLocked(t *testing.T) {
	reg, _ := newRegistry(t)
	sess := startSession(t, reg, service.Identity{UID: "t1", Email: "sara@example.com"})
	h := NewQuotaHandler(language.English)

	c, w := newContext(http.MethodGet, "/quota", nil, sess)
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	var view dto.QuotaResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.False(t, view.Locked)
	assert.Empty(t, view.Countdown)

	sess.Quota.Lock("daily quota", time.Now().Add(2*time.Hour).UnixMilli())
	c, w = newContext(http.MethodGet, "/quota", nil, sess)
	h.Get(c)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.True(t, view.Locked)
	assert.Equal(t, "daily quota", view.LockedReason)
	assert.Regexp(t, `^0[12]:\d{2}:\d{2}$`, view.Countdown)

	c, w = newContext(http.MethodPost, "/quota/reload", nil, sess)
	h.Reload(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sess.Quota.IsLocked())
}
