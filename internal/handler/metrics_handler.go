package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/candidate-sync/internal/service"
)

type sessionCounter interface {
	Len() int
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics  *service.MetricsService
	sessions sessionCounter
	driver   string
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, sessions sessionCounter, driver string) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, sessions: sessions, driver: driver}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports the store driver, running sessions and engine counters.
func (h *MetricsHandler) Ready(c *gin.Context) {
	payload := gin.H{"status": "ready", "store": h.driver}
	if h.sessions != nil {
		payload["sessions"] = h.sessions.Len()
	}
	if h.metrics != nil {
		payload["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, payload)
}
