package main

import (
	"context"
	"errors"
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
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/api/handlers"
	redisCache "github.com/math-agent/backend/internal/cache/redis"
	"github.com/math-agent/backend/internal/embedding"
	"github.com/math-agent/backend/internal/feedback"
	"github.com/math-agent/backend/internal/guardrails"
	"github.com/math-agent/backend/internal/intent"
	"github.com/math-agent/backend/internal/knowledge"
	"github.com/math-agent/backend/internal/metrics"
	"github.com/math-agent/backend/internal/middleware/ratelimit"
	"github.com/math-agent/backend/internal/middleware/security"
	"github.com/math-agent/backend/internal/middleware/validation"
	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/internal/search/web"
	"github.com/math-agent/backend/internal/solver"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/internal/storage/sqlite"
	"github.com/math-agent/backend/pkg/config"
	appLogger "github.com/math-agent/backend/pkg/logger"
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

	appLogger.Info("Starting Math Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embedCache embedding.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			embedCache = redisClient
		}
	}

	embedClient := embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimension,
		cfg.Embedding.TimeoutSec,
		embedCache,
		time.Duration(cfg.Redis.TTLMin)*time.Minute,
	)

	index := knowledge.NewIndex(cfg.Embedding.Dimension, cfg.Routing.DuplicateThreshold, sqliteClient)

	entries, err := sqliteClient.LoadKnowledgeEntries()
	if err != nil {
		appLogger.Fatal("Failed to load knowledge entries", zap.Error(err))
	}
	if err := index.Load(entries); err != nil {
		appLogger.Fatal("Refusing to serve from corrupted index", zap.Error(err))
	}

	if index.Count() == 0 {
		seeded, err := knowledge.Seed(context.Background(), index, embedClient.Embed)
		if err != nil {
			appLogger.Warn("Knowledge base seeding incomplete", zap.Int("seeded", seeded), zap.Error(err))
		}
	}
	metrics.KnowledgeEntriesTotal.Set(float64(index.Count()))

	thresholds := routing.NewThresholds(cfg.Routing.HighThreshold, cfg.Routing.LowThreshold, cfg.Feedback.ThresholdStep)
	if high, low, err := sqliteClient.LoadThresholds(); err == nil {
		thresholds.Restore(high, low)
	} else if !errors.Is(err, models.ErrNotFound) {
		appLogger.Warn("Failed to load persisted thresholds", zap.Error(err))
	}
	metrics.ThresholdValue.WithLabelValues("high").Set(thresholds.High())
	metrics.ThresholdValue.WithLabelValues("low").Set(thresholds.Low())

	var searcher routing.WebSearcher
	if cfg.Search.Enabled {
		searcher = web.NewClient(cfg.Search.TimeoutSec, cfg.Search.MaxResults)
	}

	guard := guardrails.NewManager(cfg.Guardrails.MaxInputLength, cfg.Guardrails.MaxOutputLength)
	classifier := intent.NewClassifier()
	solverAgent := solver.NewSolver()

	engine := routing.NewEngine(
		guard,
		classifier,
		index,
		embedClient,
		searcher,
		solverAgent,
		thresholds,
		sqliteClient,
		routing.Config{
			TopK:             cfg.Routing.TopK,
			HybridBonus:      cfg.Routing.HybridBonus,
			SolverConfidence: cfg.Routing.SolverConfidence,
			WebMaxResults:    cfg.Search.MaxResults,
		},
	)

	feedbackEngine, err := feedback.NewEngine(sqliteClient, index, embedClient.Embed, thresholds, feedback.Config{
		RetentionHours: cfg.Feedback.RetentionHours,
		QualityStep:    cfg.Feedback.QualityStep,
		ThresholdStep:  cfg.Feedback.ThresholdStep,
		RebuildBatch:   cfg.Feedback.RebuildBatch,
	})
	if err != nil {
		appLogger.Fatal("Failed to create feedback engine", zap.Error(err))
	}

	improvementDone := make(chan struct{})
	go runImprovementLoop(feedbackEngine, improvementDone)

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
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxQueryLength: cfg.Guardrails.MaxInputLength,
		Logger:         appLogger.GetLogger(),
	}))

	queryHandler := handlers.NewQueryHandler(engine)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackEngine)
	knowledgeHandler := handlers.NewKnowledgeHandler(index, embedClient, searcher, cfg.Routing.TopK)
	wsHandler := handlers.NewWebSocketHandler(engine)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/routing/stats", queryHandler.GetRoutingStats)
	api.Get("/sample-queries", queryHandler.GetSampleQueries)

	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/feedback/metrics", feedbackHandler.GetFeedbackMetrics)
	api.Post("/admin/improvements", feedbackHandler.ApplyImprovements)

	api.Get("/knowledge-base/stats", knowledgeHandler.GetStats)
	api.Post("/knowledge-base/search", knowledgeHandler.SearchKnowledgeBase)
	api.Post("/knowledge-base/entries", knowledgeHandler.AddEntry)
	api.Post("/web-search", knowledgeHandler.WebSearch)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

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
	close(improvementDone)
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func runImprovementLoop(engine *feedback.Engine, done chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := engine.ApplyImprovements(context.Background()); err != nil {
				appLogger.Warn("Scheduled improvement pass failed", zap.Error(err))
			}
		case <-done:
			return
		}
	}
}
