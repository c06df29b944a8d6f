// Package main wires together the crawl service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/parchment-ai/webharvest/internal/api"
	"github.com/parchment-ai/webharvest/internal/clock/system"
	"github.com/parchment-ai/webharvest/internal/config"
	"github.com/parchment-ai/webharvest/internal/crawler"
	"github.com/parchment-ai/webharvest/internal/dedup"
	"github.com/parchment-ai/webharvest/internal/extract"
	"github.com/parchment-ai/webharvest/internal/fetcher"
	directfetcher "github.com/parchment-ai/webharvest/internal/fetcher/direct"
	"github.com/parchment-ai/webharvest/internal/fetcher/headless"
	"github.com/parchment-ai/webharvest/internal/finalizer"
	"github.com/parchment-ai/webharvest/internal/hash/sha256"
	"github.com/parchment-ai/webharvest/internal/id/uuid"
	"github.com/parchment-ai/webharvest/internal/logging"
	"github.com/parchment-ai/webharvest/internal/metrics"
	memorypublisher "github.com/parchment-ai/webharvest/internal/publisher/memory"
	pubsubpublisher "github.com/parchment-ai/webharvest/internal/publisher/pubsub"
	memoryqueue "github.com/parchment-ai/webharvest/internal/queue/memory"
	pubsubqueue "github.com/parchment-ai/webharvest/internal/queue/pubsub"
	gcsstorage "github.com/parchment-ai/webharvest/internal/storage/gcs"
	localstorage "github.com/parchment-ai/webharvest/internal/storage/local"
	memorystorage "github.com/parchment-ai/webharvest/internal/storage/memory"
	memorystore "github.com/parchment-ai/webharvest/internal/store/memory"
	postgresstore "github.com/parchment-ai/webharvest/internal/store/postgres"
	"github.com/parchment-ai/webharvest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	jobStore, pageStore, hashStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	discoveryQueue, processingQueue, publisher, err := buildQueues(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := publisher.(interface{ Close() }); ok {
		defer closer.Close()
	}

	clock := system.New()
	idGen := uuid.New()
	extractor := extract.New()
	dedupSvc := dedup.New(hashStore, sha256.New(), cfg.Dedup.Global)

	direct := directfetcher.New(directfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var renderer crawler.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Headless.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			defer chromeRenderer.Close()
			renderer = chromeRenderer
		}
	}
	strategy := fetcher.New(direct, renderer, fetcher.Config{
		Timeout:     cfg.FetchTimeout(),
		MaxAttempts: cfg.Fetch.MaxAttempts,
	}, logger.Named("fetcher"))

	pool := worker.NewPool()
	pool.Add(worker.NewDiscoveryWorker(
		discoveryQueue, processingQueue, jobStore, pageStore,
		strategy, extractor, clock,
		logger.Named("discovery"),
	), cfg.Workers.Discovery)
	pool.Add(worker.NewProcessingWorker(
		processingQueue, jobStore, pageStore, blobStore, publisher,
		strategy, extractor, dedupSvc, idGen, clock,
		worker.ProcessingConfig{
			BlobPrefix:   cfg.Storage.Prefix,
			ContentTopic: cfg.PubSub.ContentTopic,
		},
		logger.Named("processing"),
	), cfg.Workers.Processing)

	discoveryStats, ok := discoveryQueue.(crawler.QueueStats)
	if !ok {
		return errors.New("discovery queue does not report depth")
	}
	processingStats, ok := processingQueue.(crawler.QueueStats)
	if !ok {
		return errors.New("processing queue does not report depth")
	}
	sweeper := finalizer.New(jobStore, discoveryStats, processingStats, publisher, finalizer.Config{
		Interval:  cfg.FinalizerInterval(),
		JobsTopic: cfg.PubSub.JobsTopic,
	}, logger.Named("finalizer"))

	apiCfg := api.Config{RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(jobStore, discoveryQueue, idGen, clock, apiCfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started",
			zap.Int("discovery", cfg.Workers.Discovery),
			zap.Int("processing", cfg.Workers.Processing))
		pool.Run(ctx)
	}()
	go sweeper.Run(ctx)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config) (crawler.JobStore, crawler.PageStore, crawler.HashStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystore.NewJobStore(), memorystore.NewPageStore(), memorystore.NewHashStore(), func() {}, nil
	}
	pool, err := postgresstore.Connect(ctx, postgresstore.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgresstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	return postgresstore.NewJobStore(pool), postgresstore.NewPageStore(pool), postgresstore.NewHashStore(pool), pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildQueues(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Queue, crawler.Queue, crawler.Publisher, error) {
	if cfg.Queue.Backend != "pubsub" {
		return memoryqueue.New(cfg.Workers.QueueBuffer),
			memoryqueue.New(cfg.Workers.QueueBuffer),
			memorypublisher.New(), nil
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	discovery, err := pubsubqueue.New(ctx, client, cfg.PubSub.DiscoveryTopic, cfg.PubSub.DiscoverySubscription, logger.Named("queue.discovery"))
	if err != nil {
		return nil, nil, nil, err
	}
	processing, err := pubsubqueue.New(ctx, client, cfg.PubSub.ProcessingTopic, cfg.PubSub.ProcessingSubscription, logger.Named("queue.processing"))
	if err != nil {
		return nil, nil, nil, err
	}
	publisher, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, nil, nil, err
	}
	return discovery, processing, publisher, nil
}
