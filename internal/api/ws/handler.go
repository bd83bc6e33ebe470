// Package ws serves the /ws gateway: it upgrades the client connection
// and hands both ends to the transport engine's tunnel.
package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/session"
	"github.com/webveil/webveil/internal/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Shimmed pages connect from arbitrary rewritten origins.
		return true
	},
}

// Handler tunnels client WebSocket connections through the transport
// engine.
type Handler struct {
	engine transport.Engine
	codec  transport.Codec
	store  session.Store
	logger *logging.Logger
}

// NewHandler creates a new WebSocket gateway handler.
func NewHandler(engine transport.Engine, codec transport.Codec, store session.Store, logger *logging.Logger) *Handler {
	if codec == nil {
		codec = transport.IdentityCodec{}
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Handler{engine: engine, codec: codec, store: store, logger: logger}
}

// HandleConnection upgrades the client and pipes it to the origin.
func (h *Handler) HandleConnection(c *gin.Context) {
	target, err := h.codec.Decode(c.Query("url"))
	if err != nil || target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid url parameter"})
		return
	}

	if sid := c.Query("session"); sid != "" && h.store != nil {
		if sess, ok := h.store.Get(sid); ok && !sess.Settings.EnableWebSockets {
			c.JSON(http.StatusForbidden, gin.H{"error": "websockets disabled for session"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := h.engine.Upgrade(c.Request.Context(), target, conn); err != nil {
		h.logger.Debug("websocket tunnel closed",
			zap.String("target", target),
			zap.Error(err),
		)
	}
}
