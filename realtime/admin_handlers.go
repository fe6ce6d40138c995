package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// adminBroadcastRequest is the body of POST /admin/broadcast
type adminBroadcastRequest struct {
	MessageType string `json:"message_type" binding:"required"`
	Data        any    `json:"data"`
	Topic       string `json:"topic,omitempty"`
}

// adminReapRequest is the body of POST /admin/reap. A zero threshold uses
// the configured default.
type adminReapRequest struct {
	ThresholdSeconds int `json:"threshold_seconds,omitempty"`
}

// AdminConfig holds the defaults the admin surface falls back to
type AdminConfig struct {
	IdleThreshold  time.Duration
	MaxMessageSize int64
}

// AdminHandlers exposes the operational surface: stats, message injection
// and manual reaping. Admin traffic bypasses per-identity rate limiting but
// not size limits.
type AdminHandlers struct {
	hub *Hub
	cfg AdminConfig
}

// NewAdminHandlers creates the admin handler set
func NewAdminHandlers(hub *Hub, cfg AdminConfig) *AdminHandlers {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 10 * time.Minute
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	return &AdminHandlers{hub: hub, cfg: cfg}
}

// RegisterRoutes mounts the admin endpoints on the router group
func (a *AdminHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", a.GetStats)
	rg.POST("/broadcast", a.PostBroadcast)
	rg.POST("/reap", a.PostReap)
}

// GetStats returns a snapshot of registry occupancy
func (a *AdminHandlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.hub.SnapshotStats())
}

// PostBroadcast injects a server-side event, either to one topic's
// subscribers or to every connection.
func (a *AdminHandlers) PostBroadcast(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxMessageSize)

	var req adminBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	evt := NewEvent(req.MessageType, req.Data)
	var delivered int
	if req.Topic != "" {
		delivered = a.hub.Publish(req.Topic, evt)
	} else {
		delivered = a.hub.Broadcast(evt, nil)
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// PostReap closes idle connections immediately
func (a *AdminHandlers) PostReap(c *gin.Context) {
	var req adminReapRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	threshold := a.cfg.IdleThreshold
	if req.ThresholdSeconds > 0 {
		threshold = time.Duration(req.ThresholdSeconds) * time.Second
	}
	reaped := a.hub.ReapIdle(threshold)
	c.JSON(http.StatusOK, gin.H{"reaped": reaped})
}
