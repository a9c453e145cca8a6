package handlers

import (
	"io"
	"net/http"
	"time"

	"decodebook-backend/progress"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 15 * time.Second

// ProgressHandler streams progress events to browsers
type ProgressHandler struct {
	hub *progress.Hub
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(hub *progress.Hub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// Stream handles GET /api/sessions/:id/progress as Server-Sent Events
func (h *ProgressHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")
	if !sessionIDPattern.MatchString(sessionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid session ID format",
			},
		})
		return
	}

	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Flush headers so the client knows the subscription is live
	c.SSEvent("ready", gin.H{"sessionId": sessionID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", event)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			return true
		}
	})
}
