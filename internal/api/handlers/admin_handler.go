package handlers

import (
	"net/http"
	"strconv"

	"github.com/babililo/relay/internal/ratelimit"
	"github.com/babililo/relay/internal/repositories/postgres"
	"github.com/babililo/relay/internal/services"
	"github.com/babililo/relay/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	limiter *ratelimit.Limiter
	users   postgres.UserRepo
	runs    services.RunService
}

func NewAdminHandler(limiter *ratelimit.Limiter, users postgres.UserRepo, runs services.RunService) *AdminHandler {
	return &AdminHandler{limiter: limiter, users: users, runs: runs}
}

func (h *AdminHandler) RateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Stats())
}

// RateLimitReset forcibly clears an entity's bucket.
func (h *AdminHandler) RateLimitReset(c *gin.Context) {
	entityID := c.Param("entity_id")
	if entityID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AdminHandler.RateLimitReset", "entity_id is required", nil))
		return
	}

	h.limiter.Reset(entityID)
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "reset": true})
}

type banRequest struct {
	Banned bool `json:"banned"`
}

func (h *AdminHandler) SetBanned(c *gin.Context) {
	entityID := c.Param("entity_id")
	if entityID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AdminHandler.SetBanned", "entity_id is required", nil))
		return
	}

	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AdminHandler.SetBanned", "invalid body", err))
		return
	}

	if err := h.users.SetBanned(c.Request.Context(), entityID, req.Banned); err != nil {
		writeError(c, utils.E(utils.CodeInternal, "AdminHandler.SetBanned", "failed to update user", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "banned": req.Banned})
}

// Runs lists recent relay runs for an entity, newest first.
func (h *AdminHandler) Runs(c *gin.Context) {
	entityID := c.Param("entity_id")

	limit := int64(50)
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := h.runs.ListByEntity(c.Request.Context(), entityID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "runs": runs})
}
