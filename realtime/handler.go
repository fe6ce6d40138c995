package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pulsehq/pulse/auth"
	"github.com/pulsehq/pulse/internal/slogging"
)

// Upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler owns the websocket handshake and the admin surface
type Handler struct {
	hub            *Hub
	dispatcher     *Dispatcher
	signer         *Signer
	verifier       *auth.Service
	maxMessageSize int64
}

// NewHandler creates the HTTP-facing handler for the realtime core
func NewHandler(hub *Hub, dispatcher *Dispatcher, signer *Signer, verifier *auth.Service, maxMessageSize int64) *Handler {
	return &Handler{
		hub:            hub,
		dispatcher:     dispatcher,
		signer:         signer,
		verifier:       verifier,
		maxMessageSize: maxMessageSize,
	}
}

// HandleWS authenticates the credential and upgrades the connection. A
// failed credential is refused with 401 before the upgrade, so no registry
// entry or join event ever exists for it.
func (h *Handler) HandleWS(c *gin.Context) {
	logger := slogging.Get()

	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing credential"})
		return
	}

	identity, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		message := "invalid credential"
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			message = "credential expired"
		case errors.Is(err, auth.ErrTokenRevoked):
			message = "credential revoked"
		case errors.Is(err, auth.ErrTokenMalformed):
			message = "credential malformed"
		default:
			logger.Error("Credential verification failed: %v", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": message})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection: %v", err)
		return
	}

	conn := h.hub.Register(identity)
	client := NewClient(h.hub, conn, ws, h.dispatcher, h.signer, h.maxMessageSize)
	// The request context dies when this handler returns; the pumps outlive
	// it and are torn down through the hub instead.
	client.Start(context.WithoutCancel(c.Request.Context()))
}
