package handlers

import (
	"context"
	"errors"
	"net/http"

	"decodebook-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TranscriptStore loads and removes archived run transcripts
type TranscriptStore interface {
	GetTranscript(ctx context.Context, runID uuid.UUID) (*service.Transcript, error)
	DeleteTranscript(ctx context.Context, runID uuid.UUID) error
}

// TranscriptHandler serves diagnostic transcripts
type TranscriptHandler struct {
	transcripts TranscriptStore
}

// NewTranscriptHandler creates a new transcript handler
func NewTranscriptHandler(transcripts TranscriptStore) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// GetTranscript handles GET /api/transcripts/:id
func (h *TranscriptHandler) GetTranscript(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}

	transcript, err := h.transcripts.GetTranscript(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrTranscriptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Transcript not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": "Failed to load transcript",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    transcript,
	})
}

// DeleteTranscript handles DELETE /api/transcripts/:id
func (h *TranscriptHandler) DeleteTranscript(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}

	if err := h.transcripts.DeleteTranscript(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrTranscriptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Transcript not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DELETE_FAILED",
				"message": "Failed to delete transcript",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Transcript deleted successfully",
	})
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}
