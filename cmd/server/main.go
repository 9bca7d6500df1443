package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/ai"
	"github.com/selivandex/biaslens/internal/adapters/bias"
	"github.com/selivandex/biaslens/internal/adapters/config"
	"github.com/selivandex/biaslens/internal/adapters/database"
	redisAdapter "github.com/selivandex/biaslens/internal/adapters/redis"
	"github.com/selivandex/biaslens/internal/adapters/reddit"
	"github.com/selivandex/biaslens/internal/analytics"
	"github.com/selivandex/biaslens/internal/discussion"
	"github.com/selivandex/biaslens/internal/pipeline"
	"github.com/selivandex/biaslens/internal/server"
	"github.com/selivandex/biaslens/pkg/logger"
)

const migrationsPath = "migrations"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("biaslens starting",
		zap.String("top_window", cfg.Analysis.TopWindow),
		zap.Int("discussion_limit", cfg.Analysis.DiscussionLimit),
		zap.Strings("ai_providers", cfg.AI.GetEnabledAIProviders()),
	)

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.Conn(), migrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional: without it the service runs with caching and
	// run locking disabled.
	var redisClient *redisAdapter.Client
	if cfg.Redis.Host != "" {
		redisClient, err = redisAdapter.New(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Warn("redis not configured, caching disabled")
	}

	providers := []ai.Classifier{
		ai.NewDeepSeekProvider(&cfg.AI.DeepSeek),
		ai.NewOpenAIProvider(&cfg.AI.OpenAI),
	}

	stanceAdapter := ai.NewAdapter(providers, redisClient, ai.NewRepository(db), ai.Options{
		PromptVersion: cfg.AI.PromptVersion,
		InputCharCap:  cfg.AI.InputCharCap,
		ResultTTL:     cfg.AI.ResultTTL,
	})

	redditClient := reddit.NewClient(&cfg.Reddit)
	biasIndex := bias.NewIndex(db)
	analyticsRepo := analytics.NewRepository(db)

	analyzer := discussion.NewAnalyzer(redditClient, stanceAdapter, redisClient, discussion.Params{
		Limit:          cfg.Analysis.DiscussionLimit,
		BatchSize:      cfg.Analysis.BatchSize,
		TopWindow:      cfg.Analysis.TopWindow,
		CommentTimeout: cfg.Analysis.CommentTimeout,
		RunCacheTTL:    cfg.Analysis.RunCacheTTL,
	})

	controller := pipeline.NewController(redditClient, biasIndex, analyzer, analyticsRepo, redisClient, pipeline.Options{
		TopLimit:  cfg.Analysis.TopLimit,
		TopWindow: cfg.Analysis.TopWindow,
	})

	srv := server.New(cfg.Server.Port, controller, analyticsRepo, db, redisClient)
	return srv.Start(ctx)
}
