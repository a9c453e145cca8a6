package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"decodebook-backend/models"
	"decodebook-backend/progress"
	"decodebook-backend/service"

	"github.com/gin-gonic/gin"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Asker answers a single decode request
type Asker interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResult, error)
}

// DecodeHandler handles HTTP requests for decoding questions
type DecodeHandler struct {
	decodeService Asker
	hub           *progress.Hub
}

// NewDecodeHandler creates a new decode handler
func NewDecodeHandler(decodeService Asker, hub *progress.Hub) *DecodeHandler {
	return &DecodeHandler{
		decodeService: decodeService,
		hub:           hub,
	}
}

// DecodeRequest represents the request body for a decode request
// name and searchTerm are accepted for older clients
type DecodeRequest struct {
	SessionID  string `json:"sessionId"`
	Query      string `json:"query"`
	Name       string `json:"name"`
	SearchTerm string `json:"searchTerm"`
}

func (r DecodeRequest) session() string {
	if r.SessionID != "" {
		return strings.TrimSpace(r.SessionID)
	}
	return strings.TrimSpace(r.Name)
}

func (r DecodeRequest) query() string {
	if r.Query != "" {
		return r.Query
	}
	return r.SearchTerm
}

// Decode handles POST /api/decode
func (h *DecodeHandler) Decode(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Request body must be JSON with sessionId and query",
			},
		})
		return
	}

	sessionID := req.session()
	if sessionID != "" && !sessionIDPattern.MatchString(sessionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid sessionId format",
			},
		})
		return
	}

	query, err := service.ValidateQuery(req.query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_QUERY",
				"message": "Invalid query",
			},
		})
		return
	}

	serviceReq := service.AskRequest{Query: query}
	if sessionID != "" && h.hub != nil {
		serviceReq.Progress = service.ProgressFunc(func(event models.ProgressEvent) {
			h.hub.Publish(sessionID, event)
		})
	}

	result, err := h.decodeService.Ask(c.Request.Context(), serviceReq)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_QUERY",
					"message": "Invalid query",
				},
			})
			return
		}
		log.Printf("Decode request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROCESSING_FAILED",
				"message": "Something went wrong while decoding your question. Please try again.",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Answer,
		"outcome": result.Outcome,
	})
}
