package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/musterd/muster/internal/application/fleet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades worker connections and hands them to the fleet hub.
type Handler struct {
	hub    *fleet.Hub
	logger *zap.Logger
}

// NewHandler creates the worker gateway handler.
func NewHandler(hub *fleet.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// HandleWorker accepts one worker connection. The worker identifies itself
// via query parameters: name is a display label, tags is a comma-separated
// affinity list.
func (h *Handler) HandleWorker(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		name = c.ClientIP()
	}

	var tags []string
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	workerID, err := h.hub.Register(conn, name, tags)
	if err != nil {
		h.logger.Error("worker registration failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Info("worker connected",
		zap.String("worker_id", workerID),
		zap.String("name", name),
		zap.Strings("tags", tags),
		zap.String("client", c.ClientIP()))
}
