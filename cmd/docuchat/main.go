package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/cache"
	"github.com/docuchat/docuchat/internal/chat"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/embedding"
	"github.com/docuchat/docuchat/internal/handlers"
	"github.com/docuchat/docuchat/internal/ledger"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/middleware"
	"github.com/docuchat/docuchat/internal/models"
	"github.com/docuchat/docuchat/internal/observability"
	"github.com/docuchat/docuchat/internal/prompt"
	"github.com/docuchat/docuchat/internal/search"
	"github.com/docuchat/docuchat/internal/tokens"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("Database connection failed")
	}
	defer pool.Close()

	store := ledger.NewPostgresStore(pool, logger)
	if err := store.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Database migration failed")
	}

	registry := tokens.DefaultRegistry()
	for model, deployment := range cfg.OpenAI.DeploymentOverrides {
		registry.SetDeployment(model, deployment)
	}
	builder := prompt.NewBuilder(registry)

	openAICreds := auth.NewRefreshingProvider(auth.StaticProvider{Key: cfg.OpenAI.APIKey}, logger)
	completions := llm.NewHTTPClient(llm.Config{
		BaseURL:     cfg.OpenAI.Endpoint,
		APIVersion:  cfg.OpenAI.APIVersion,
		Timeout:     cfg.OpenAI.RequestTimeout,
		Credentials: openAICreds,
		Logger:      logger,
	})
	embedder := embedding.NewHTTPClient(embedding.Config{
		BaseURL:     cfg.OpenAI.Endpoint,
		Deployment:  cfg.OpenAI.EmbeddingDeployment,
		APIVersion:  cfg.OpenAI.APIVersion,
		Credentials: openAICreds,
		Logger:      logger,
	})
	retriever := search.NewClient(search.Config{
		Endpoint:         cfg.Search.Endpoint,
		IndexName:        cfg.Search.IndexName,
		APIVersion:       cfg.Search.APIVersion,
		SemanticConfig:   cfg.Search.SemanticConfig,
		SourceLabelField: cfg.Search.SourceField,
		ContentField:     cfg.Search.ContentField,
		Timeout:          cfg.Search.RequestTimeout,
		Credentials:      auth.StaticProvider{Key: cfg.Search.APIKey},
		Logger:           logger,
	})

	var summaryCache ledger.SummaryCache
	var redisCache *cache.SummaryCache
	if cfg.Redis.Host != "" {
		redisCache = cache.NewSummaryCache(cache.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		defer redisCache.Close()
		summaryCache = redisCache
	}

	metrics := observability.NewCollector()
	titler := ledger.NewCompletionTitler(completions, builder, registry, cfg.Chat.TitleModel, logger)
	led := ledger.New(store, titler, summaryCache, cfg.Chat.BotName, logger).WithMetrics(metrics)

	reformulator := chat.NewReformulator(completions, builder, registry, logger)

	approaches := map[models.ApproachKind]chat.Approach{
		models.ApproachChat:      chat.NewChatRead(completions, builder, registry, led, metrics, logger),
		models.ApproachDocSearch: chat.NewDocSearch(reformulator, embedder, retriever, completions, builder, registry, led, metrics, logger),
	}

	checks := map[string]handlers.HealthChecker{
		"database": func(ctx context.Context) error { return pool.Ping(ctx) },
	}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}

	router := newRouter(logger, approaches, led, metrics, checks)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.WithField("addr", addr).Info("Starting server")
	if err := runServer(ctx, router, addr, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}

func newRouter(
	logger *logrus.Logger,
	approaches map[models.ApproachKind]chat.Approach,
	led *ledger.Ledger,
	metrics *observability.Collector,
	checks map[string]handlers.HealthChecker,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.RequestLogging(logger))

	chatHandler := handlers.NewChatHandler(approaches, logger)
	convHandler := handlers.NewConversationHandler(led, logger)
	healthHandler := handlers.NewHealthHandler(checks)

	router.POST("/chat", chatHandler.Turn)
	router.POST("/docsearch", chatHandler.Turn)
	router.POST("/", convHandler.List)
	router.POST("/conversationcontent", convHandler.Content)
	router.POST("/delete", convHandler.Delete)
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// runServer serves until the context is cancelled, then drains in-flight
// requests before returning.
func runServer(ctx context.Context, handler http.Handler, addr string, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
