package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	"github.com/noah-isme/candidate-sync/internal/service"
)

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *struct{ Code string } `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func newRegistry(t *testing.T) (*service.SessionRegistry, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore(repository.Options{})
	reg := service.NewSessionRegistry(service.SessionConfig{SuperAdminEmail: "root@example.com"}, service.SessionDeps{Store: store})
	t.Cleanup(reg.StopAll)
	return reg, store
}

func startSession(t *testing.T, reg *service.SessionRegistry, identity service.Identity) *service.Session {
	t.Helper()
	sess, err := reg.Start(context.Background(), identity)
	require.NoError(t, err)
	return sess
}

// newContext builds a test context carrying sess (when non-nil) and an optional JSON body.
func newContext(method, target string, body interface{}, sess *service.Session) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if sess != nil {
		c.Set(middleware.ContextSessionKey, sess)
	}
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}
