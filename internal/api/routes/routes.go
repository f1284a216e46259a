package routes

import (
	"github.com/babililo/relay/internal/api/handlers"
	"github.com/babililo/relay/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Chat         *handlers.ChatHandler
	Conversation *handlers.ConversationHandler
	Persona      *handlers.PersonaHandler
	Admin        *handlers.AdminHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Entity routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.GET("/ws/chat", d.Chat.ChatWS)
	auth.POST("/message", d.Chat.Message)
	auth.POST("/document", d.Chat.SetDocument)
	auth.DELETE("/document", d.Chat.ClearDocument)
	auth.POST("/persona", d.Persona.Set)
	auth.DELETE("/persona", d.Persona.Clear)
	auth.GET("/conversation", d.Conversation.Recent)
	auth.POST("/conversation/clear", d.Conversation.Clear)

	// Administrative routes (key-guarded)
	admin := r.Group("/admin")
	admin.Use(middleware.AdminKeyAuth())

	admin.GET("/ratelimit/stats", d.Admin.RateLimitStats)
	admin.POST("/ratelimit/reset/:entity_id", d.Admin.RateLimitReset)
	admin.POST("/users/:entity_id/ban", d.Admin.SetBanned)
	admin.GET("/runs/:entity_id", d.Admin.Runs)
}
