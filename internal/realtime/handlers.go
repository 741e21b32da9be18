package realtime

import (
	"github.com/gin-gonic/gin"
)

// Handler exposes the stream endpoint.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new stream handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes sets up routes on a group already scoped to /merchants/:id.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.Stream)
}

// Stream handles GET /v1/merchants/:id/stream
func (h *Handler) Stream(c *gin.Context) {
	h.hub.HandleWebSocket(c.Param("id"), c.Writer, c.Request)
}
