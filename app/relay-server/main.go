package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/babililo/relay/config"
	"github.com/babililo/relay/internal/api/handlers"
	"github.com/babililo/relay/internal/api/middleware"
	"github.com/babililo/relay/internal/api/routes"
	"github.com/babililo/relay/internal/cache"
	"github.com/babililo/relay/internal/logger"
	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/providers/llm"
	"github.com/babililo/relay/internal/ratelimit"
	"github.com/babililo/relay/internal/relay"
	mongorepo "github.com/babililo/relay/internal/repositories/mongo"
	pgrepo "github.com/babililo/relay/internal/repositories/postgres"
	"github.com/babililo/relay/internal/services"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	settings := config.LoadSettings()

	// Init PostgreSQL (conversation store)
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.PostgresDB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Turn{},
		&models.Persona{},
	); err != nil {
		log.WithError(err).Fatal("PostgreSQL migration error")
	}
	log.Info("PostgreSQL connected")

	// Init Redis (cache + cross-process delivery channels)
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	// Init MongoDB (relay run tracking)
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}
	log.Info("MongoDB connected")

	// Backend provider
	provider, err := buildProvider(settings)
	if err != nil {
		log.WithError(err).Fatal("LLM provider init error")
	}
	defer provider.Close()

	// Repositories
	convoRepo := pgrepo.NewConversationRepo(config.PostgresDB)
	userRepo := pgrepo.NewUserRepo(config.PostgresDB)
	personaRepo := pgrepo.NewPersonaRepo(config.PostgresDB)
	runRepo := mongorepo.NewRunRepo(config.MongoDatabase())

	// Services
	redisCache := cache.NewRedisCache(config.RedisClient)
	convoSvc := services.NewConversationService(convoRepo, userRepo)
	contextSvc := services.NewContextService(convoSvc, personaRepo, redisCache, log, services.ContextConfig{
		ContextSize:        settings.ContextSize,
		CharsPerToken:      settings.CharsPerToken,
		DocumentContextCap: settings.DocumentContextCap,
	})
	runSvc := services.NewRunService(runRepo, 24*time.Hour)

	// Core pipeline
	limiter := ratelimit.NewLimiter(settings.RateLimitMessages, settings.RateLimitWindow, log)
	streamRelay := relay.NewStreamRelay(provider, log, relay.RelayConfig{
		UpdateInterval:  settings.UpdateInterval,
		UpdateMinDelta:  settings.UpdateMinDelta,
		LivePreviewCap:  settings.LivePreviewCap,
		StreamTimeout:   settings.StreamTimeout,
		FallbackTimeout: settings.FallbackTimeout,
	})
	pipeline := relay.NewPipeline(limiter, contextSvc, convoSvc, runSvc, streamRelay, relay.NewDelivery(log), log, relay.PipelineConfig{
		DefaultModel:    settings.DefaultModel,
		Temperature:     settings.Temperature,
		MaxTokens:       settings.MaxCompletionTokens,
		TokenBudget:     settings.ContextTokenBudget,
		MaxSegmentChars: settings.MaxSegmentChars,
	})

	// Idle bucket eviction sweep
	go func() {
		ticker := time.NewTicker(settings.RateLimitSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			limiter.EvictIdle(settings.RateLimitBucketMaxIdle)
		}
	}()

	// HTTP surface
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Chat:         handlers.NewChatHandler(pipeline, contextSvc, convoSvc, userRepo, config.RedisClient, settings.IsAdmin, log),
		Conversation: handlers.NewConversationHandler(convoSvc),
		Persona:      handlers.NewPersonaHandler(contextSvc),
		Admin:        handlers.NewAdminHandler(limiter, userRepo, runSvc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

// buildProvider picks the backend from the environment: an
// OpenRouter-compatible endpoint by default, Vertex AI when a GCP
// project is configured.
func buildProvider(settings config.Settings) (llm.Provider, error) {
	if projectID := os.Getenv("VERTEX_PROJECT_ID"); projectID != "" {
		location := os.Getenv("VERTEX_LOCATION")
		if location == "" {
			location = "us-central1"
		}
		return llm.NewVertexGemini(context.Background(), projectID, location, os.Getenv("VERTEX_MODEL"))
	}
	return llm.NewOpenRouter(
		os.Getenv("OPENROUTER_BASE_URL"),
		os.Getenv("OPENROUTER_API_KEY"),
		settings.StreamTimeout,
	), nil
}
