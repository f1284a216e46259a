package handlers

import (
	"net/http"

	"github.com/babililo/relay/internal/services"
	"github.com/babililo/relay/internal/utils"
	"github.com/gin-gonic/gin"
)

// PersonaHandler manages the entity's system-prompt persona.
type PersonaHandler struct {
	contexts services.ContextService
}

func NewPersonaHandler(contexts services.ContextService) *PersonaHandler {
	return &PersonaHandler{contexts: contexts}
}

type setPersonaRequest struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt" binding:"required"`
	Tags         []string `json:"tags"`
}

// Set replaces the caller's active persona. The new prompt takes
// effect on the next message.
func (h *PersonaHandler) Set(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	var req setPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "PersonaHandler.Set", "system_prompt is required", err))
		return
	}

	if err := h.contexts.SetPersona(c.Request.Context(), entityID, req.Name, req.SystemPrompt, req.Tags); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "name": req.Name})
}

// Clear deactivates the caller's persona; the default prompt applies
// again.
func (h *PersonaHandler) Clear(c *gin.Context) {
	entityID, ok := requireEntityID(c)
	if !ok {
		return
	}

	if err := h.contexts.ClearPersona(c.Request.Context(), entityID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}
