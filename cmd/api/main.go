package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/agent"
	"github.com/topoquery/backend/internal/api/handlers"
	"github.com/topoquery/backend/internal/cache"
	"github.com/topoquery/backend/internal/embedding"
	"github.com/topoquery/backend/internal/graph/neo4j"
	"github.com/topoquery/backend/internal/llm"
	"github.com/topoquery/backend/internal/metrics"
	"github.com/topoquery/backend/internal/middleware/ratelimit"
	"github.com/topoquery/backend/internal/middleware/security"
	"github.com/topoquery/backend/internal/middleware/validation"
	"github.com/topoquery/backend/internal/prompt"
	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/internal/store"
	"github.com/topoquery/backend/internal/vector/milvus"
	"github.com/topoquery/backend/pkg/config"
	appLogger "github.com/topoquery/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting TopoQuery API Server")

	metric, err := similarity.ParseMetric(cfg.Agent.SimilarityMetric)
	if err != nil {
		appLogger.Fatal("Invalid similarity metric", zap.Error(err))
	}

	db, err := store.NewDB(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to open SQLite database", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	schema, err := neo4jClient.Schema(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to fetch graph schema", zap.Error(err))
	}
	appLogger.Info("Graph schema loaded", zap.Int("length", len(schema)))

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	// Redis is an optimization, not a dependency. Without it every embedding
	// is computed fresh.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = embedding.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
			redisClient = nil
		}
	}
	provider := embedding.NewCachedProvider(llmClient, redisClient, time.Duration(cfg.Redis.TTLSec)*time.Second)

	var accel similarity.Backend
	var vectorIndex store.VectorIndex
	if cfg.Milvus.Enabled {
		index, err := milvus.NewIndex(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Warn("Milvus unavailable, using brute force selection only", zap.Error(err))
		} else {
			defer index.Close()
			if err := index.EnsureCollection(context.Background()); err != nil {
				appLogger.Warn("Failed to prepare Milvus collection", zap.Error(err))
			} else {
				accel = index
				vectorIndex = index
			}
		}
	}

	exampleStore := store.NewStore(db, provider, vectorIndex)
	if err := exampleStore.LoadPersisted(context.Background()); err != nil {
		appLogger.Fatal("Failed to load example pool", zap.Error(err))
	}
	if err := exampleStore.LoadStaticExamples(context.Background(), cfg.Agent.ExamplesFile); err != nil {
		appLogger.Warn("Failed to load static examples", zap.Error(err))
	}
	static, feedback := exampleStore.Counts()
	metrics.PoolSize.WithLabelValues("static").Set(float64(static))
	metrics.PoolSize.WithLabelValues("feedback").Set(float64(feedback))
	appLogger.Info("Example pool ready", zap.Int("static", static), zap.Int("feedback", feedback))

	queryCache, err := cache.New(db, cfg.Agent.CacheCapacity, metric, cfg.Agent.CacheThreshold)
	if err != nil {
		appLogger.Fatal("Failed to create query cache", zap.Error(err))
	}
	if err := queryCache.Load(); err != nil {
		appLogger.Warn("Failed to load persisted cache entries", zap.Error(err))
	}

	engine := similarity.NewEngine(accel, cfg.Agent.IndexPoolThreshold)
	selector := agent.NewSelector(exampleStore, engine, metric, agent.SelectorConfig{
		ExampleTopK:           cfg.Agent.ExampleTopK,
		ExampleMinSimilarity:  cfg.Agent.ExampleMinSimilarity,
		FeedbackTopK:          cfg.Agent.FeedbackTopK,
		FeedbackMinSimilarity: cfg.Agent.FeedbackMinSimilarity,
	})

	builder := prompt.NewBuilder()

	orchestrator := agent.NewOrchestrator(
		agent.NewLLMGenerator(llmClient, builder),
		agent.NewLLMValidator(llmClient),
		agent.NewGraphExecutor(neo4jClient),
		agent.NewNarrativeSummarizer(llmClient),
		agent.NewStructuredSummarizer(),
		provider,
		queryCache,
		selector,
		db,
		agent.OrchestratorConfig{
			Schema:            schema,
			MaxRetries:        cfg.Agent.MaxRetries,
			DefaultRunMode:    agent.RunMode(cfg.Agent.RunMode),
			DefaultSummarizer: agent.SummarizerMode(cfg.Agent.SummarizerMode),
			LogInteractions:   cfg.Agent.LogInteractions,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		EnableHSTS: cfg.Server.EnableHSTS,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		TokensPerMinute: cfg.Server.RateLimitPerMin,
		Burst:           cfg.Server.RateLimitBurst,
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	chatHandler := handlers.NewChatHandler(orchestrator)
	feedbackHandler := handlers.NewFeedbackHandler(exampleStore, queryCache)
	examplesHandler := handlers.NewExamplesHandler(provider, selector)
	cacheHandler := handlers.NewCacheHandler(queryCache, provider)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Post("/feedback", feedbackHandler.HandleFeedback)
	api.Post("/similar-examples", examplesHandler.HandleSimilarExamples)
	api.Post("/similar-feedback", examplesHandler.HandleSimilarFeedback)

	api.Get("/cache/stats", cacheHandler.HandleStats)
	api.Delete("/cache", cacheHandler.HandleClear)

	api.Get("/schema", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"schema": schema,
		})
	})

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
