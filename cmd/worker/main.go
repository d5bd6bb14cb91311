package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iago/feedback-insights/internal/ai"
	"github.com/iago/feedback-insights/internal/cache"
	"github.com/iago/feedback-insights/internal/classifier"
	"github.com/iago/feedback-insights/internal/config"
	httpserver "github.com/iago/feedback-insights/internal/http"
	"github.com/iago/feedback-insights/internal/http/handlers"
	"github.com/iago/feedback-insights/internal/queue"
	"github.com/iago/feedback-insights/internal/ratelimit"
	"github.com/iago/feedback-insights/internal/repository"
	"github.com/iago/feedback-insights/internal/service"
	"github.com/iago/feedback-insights/internal/source"
	"github.com/iago/feedback-insights/internal/telemetry"
	"github.com/iago/feedback-insights/internal/worker"
)

type noticeQueue interface {
	queue.Notifier
	queue.Listener
}

func main() {
	logger := log.New(os.Stdout, "[feedback-worker] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Register()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	redisClient := setupRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	notices := setupQueue(ctx, cfg, redisClient, logger)

	files, err := setupFiles(cfg)
	if err != nil {
		logger.Fatalf("file store: %v", err)
	}

	lexicon, err := classifier.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		logger.Fatalf("lexicon: %v", err)
	}

	labeler := classifier.New(classifier.Dependencies{
		Client: setupAIClient(cfg, logger),
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			ClassificationPrimary:  cfg.ClassifierModelPrimary,
			ClassificationFallback: cfg.ClassifierModelFallback,
			MaxOutputTokens:        cfg.ClassifierMaxTokens,
		}),
		Pacer: setupPacer(cfg, redisClient),
		Cache: cache.NewClassificationCache(cache.Config{
			TTL:        cfg.ClassifierCacheTTL,
			MaxEntries: cfg.ClassifierCacheMax,
		}),
		Fallback:  classifier.NewFallback(lexicon),
		BatchSize: cfg.ClassifierBatchSize,
		Logger:    logger,
	})

	processor := worker.NewProcessor(repo, source.NewExtractor(files), labeler, worker.ProcessorConfig{
		Backoff:       cfg.JobRetryBackoff,
		JobTimeout:    cfg.JobTimeout,
		ProgressEvery: cfg.ProgressEvery,
		DeleteSource:  cfg.DeleteSourceOnSuccess,
		Files:         files,
		Logger:        logger,
	})

	jobsService := service.NewJobsService(repo, service.JobsServiceConfig{
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		Notifier:          notices,
		Logger:            logger,
	})
	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(jobsService),
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Printf("ops server listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logger.Printf("worker started concurrency=%d poll_interval=%s", cfg.WorkerConcurrency, cfg.WorkerPollInterval)
		return worker.Run(groupCtx, processor, worker.RunConfig{
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.WorkerPollInterval,
			Listener:     notices,
			Logger:       logger,
		})
	})

	if err := group.Wait(); err != nil {
		logger.Printf("worker stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Printf("worker stopped")
}

func setupRepository(ctx context.Context, cfg config.Config, logger *log.Logger) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pool, err := repository.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		logger.Fatalf("postgres schema: %v", err)
	}
	logger.Printf("postgres repository initialized")
	return repository.NewPostgresJobsRepository(pool), pool.Close
}

func setupRedis(ctx context.Context, cfg config.Config, logger *log.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local pacing and notices")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Printf("redis unavailable, using local pacing and notices: %v", err)
		_ = client.Close()
		return nil
	}
	return client
}

func setupQueue(ctx context.Context, cfg config.Config, client *redis.Client, logger *log.Logger) noticeQueue {
	if client == nil {
		return queue.NewLocalQueue(512, logger)
	}
	streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
		Stream:   cfg.RedisStream,
		Group:    cfg.RedisGroup,
		Consumer: cfg.RedisConsumer,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams notices, fallback to local: %v", err)
		return queue.NewLocalQueue(512, logger)
	}
	logger.Printf("redis streams notices initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
	return streams
}

// setupPacer shares the provider call budget across workers when Redis is
// reachable.
func setupPacer(cfg config.Config, client *redis.Client) ratelimit.Pacer {
	if client == nil || cfg.ClassifierCallInterval <= 0 {
		return ratelimit.NewLocalPacer(cfg.ClassifierCallInterval)
	}
	refill := float64(time.Second) / float64(cfg.ClassifierCallInterval)
	bucket := ratelimit.NewTokenBucket(client, 1, refill, time.Hour)
	return ratelimit.NewRedisPacer(bucket, "feedback:classifier:calls")
}

func setupFiles(cfg config.Config) (source.FileStore, error) {
	router := source.Router{Local: source.LocalStore{}}
	if cfg.S3Endpoint == "" {
		return router, nil
	}
	store, err := source.NewS3Store(source.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	router.Object = store
	return router, nil
}

func setupAIClient(cfg config.Config, logger *log.Logger) ai.TextGenerator {
	switch cfg.AIProvider {
	case "openai":
		logger.Printf("classifier provider=openai")
		return ai.NewOpenAIClient(ai.OpenAIClientConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Timeout:      cfg.AITimeout,
			MaxRetries:   cfg.AIMaxRetries,
			Organization: cfg.OpenAIOrganization,
		})
	case "fallback", "none", "":
		logger.Printf("classifier provider disabled, keyword fallback only")
		return nil
	default:
		logger.Printf("classifier provider=openrouter")
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    cfg.AITimeout,
			MaxRetries: cfg.AIMaxRetries,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    cfg.OpenRouterAppName,
		})
	}
}
