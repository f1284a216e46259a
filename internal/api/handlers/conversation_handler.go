package handlers

import (
	"net/http"
	"strconv"

	"github.com/babililo/relay/internal/services"
	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// Recent returns the caller's active conversation, oldest first.
func (h *ConversationHandler) Recent(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	limit := 20
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	turns, convID, err := h.svc.RecentTurns(c.Request.Context(), entityID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": convID,
		"turns":           turns,
	})
}

func (h *ConversationHandler) Clear(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	if err := h.svc.Clear(c.Request.Context(), entityID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
