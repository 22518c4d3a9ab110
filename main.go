package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"sjsage522/suumoworker/config"
	"sjsage522/suumoworker/internal"
	"sjsage522/suumoworker/internal/crawler"
	"sjsage522/suumoworker/internal/diff"
	"sjsage522/suumoworker/internal/registry"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
	"sjsage522/suumoworker/services/cache"
	"sjsage522/suumoworker/services/notifier"
	"sjsage522/suumoworker/services/publisher"
	"sjsage522/suumoworker/services/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 2
	}

	params, err := config.LoadSearchParams(cfg.SearchParamsFile)
	if err != nil {
		log.Error().Err(err).Msg("Invalid search parameters")
		return 2
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("catalog", cfg.CatalogURL).
		Str("registry", cfg.RegistryBackend).
		Str("fetcher", cfg.Fetcher).
		Str("schedule", cfg.Schedule).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	deps, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return 1
	}
	defer deps.Cleanup()

	w := worker.NewWorker(worker.Options{
		Catalog:      crawler.CatalogFromConfig(cfg),
		SearchParams: params,
		OpenSession: func() (crawler.Session, error) {
			return crawler.OpenSession(cfg, deps.Cache)
		},
		Engine:     diff.NewEngine(deps.Registry),
		Notifier:   notifier.New(deps.Publisher, cfg.NotifyMaxListings),
		Location:   cfg.Location(),
		RunTimeout: cfg.RunTimeout,
	})

	if cfg.RunsOnce() {
		go func() {
			if sig, ok := <-sigChan; ok {
				log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				cancel()
			}
		}()

		report := w.RunOnce(ctx, time.Now())
		if report.Err != nil {
			return 1
		}
		return 0
	}

	// Start scheduler in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting suumo worker")
		workerDone <- w.Start(ctx, cfg.Schedule)
	}()

	// Wait for shutdown signal or worker error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case err := <-workerDone:
		if err != nil {
			log.Error().Err(err).Msg("Worker exited with error")
			return 1
		}
		log.Info().Msg("Worker exited normally")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	return 0
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*internal.Dependencies, error) {
	deps := &internal.Dependencies{}

	// Initialize cache service
	if cfg.MemcacheAddr != "" {
		deps.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Info("Using Memcache at %s for rate limit blocks", cfg.MemcacheAddr)
	} else {
		deps.Cache = cache.NewMemoryCache()
	}

	// Initialize run registry
	reg, err := newRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Registry = reg
	logger.Info("Using %s run registry", cfg.RegistryBackend)

	// Initialize publisher
	if cfg.NotifyStream != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			deps.Cleanup()
			return nil, scrapeerrors.NewPublisher("redis", "failed to connect to "+cfg.RedisAddr, err)
		}
		deps.Publisher = publisher.NewRedisPublisher(client, cfg.NotifyStream, cfg.NotifyStreamMaxLength)

		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.NotifyStream)
	}

	return deps, nil
}

func newRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	switch cfg.RegistryBackend {
	case config.RegistryRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, scrapeerrors.NewRegistry("redis", "failed to connect to "+cfg.RedisAddr, err)
		}
		return registry.NewRedisRegistry(client, cfg.RedisKeyPrefix), nil

	case config.RegistryPostgres:
		db, err := registry.ConnectPostgres(cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		reg := registry.NewPostgresRegistry(db)
		if err := reg.Migrate(ctx); err != nil {
			reg.Close()
			return nil, err
		}
		return reg, nil

	case config.RegistryMemory:
		return registry.NewMemoryRegistry(), nil

	default:
		return registry.NewExcelRegistry(cfg.WorkbookPath), nil
	}
}
