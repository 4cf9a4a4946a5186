package handler

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/service"
)

const streamWriteTimeout = 5 * time.Second

// EventReady opens every stream with the current session view.
const EventReady = "ready"

// StreamHandler pushes session snapshot events over a WebSocket.
type StreamHandler struct {
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler builds a handler accepting upgrades from originPatterns (hosts, as
// accepted by websocket.AcceptOptions). "*" accepts every origin.
func NewStreamHandler(originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{originPatterns: originPatterns, logger: logger}
}

// Stream godoc
// @Summary Subscribe to session snapshot events
// @Description Upgrades to a WebSocket. Each message is a JSON event naming the snapshot that changed; clients refetch the matching resource.
// @Tags Stream
// @Security BearerAuth
// @Param access_token query string false "Identity token when headers cannot be set"
// @Success 101
// @Router /stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(h.originPatterns) == 1 && h.originPatterns[0] == "*" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.originPatterns
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		h.logger.Debug("stream upgrade rejected", zap.Error(err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	events, release := sess.Hub.Subscribe()
	defer release()

	ctx := conn.CloseRead(c.Request.Context())
	if err := h.write(ctx, conn, service.Event{Type: EventReady, At: sess.Now(), Data: sessionView(sess)}); err != nil {
		return
	}

	uid := sess.Context().UID
	h.logger.Debug("stream opened", zap.String("uid", uid))
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream closed by client", zap.String("uid", uid))
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "session ended")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("stream write failed", zap.String("uid", uid), zap.Error(err))
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, ev service.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
