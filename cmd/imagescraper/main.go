// Package main wires together the image scraper service binary.
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
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ferregold/image-scraper/internal/api"
	"github.com/ferregold/image-scraper/internal/blobstore/gcs"
	"github.com/ferregold/image-scraper/internal/blobstore/local"
	blobmemory "github.com/ferregold/image-scraper/internal/blobstore/memory"
	"github.com/ferregold/image-scraper/internal/catalog"
	"github.com/ferregold/image-scraper/internal/checker"
	"github.com/ferregold/image-scraper/internal/clock/system"
	"github.com/ferregold/image-scraper/internal/config"
	"github.com/ferregold/image-scraper/internal/id/uuid"
	"github.com/ferregold/image-scraper/internal/logging"
	"github.com/ferregold/image-scraper/internal/metrics"
	"github.com/ferregold/image-scraper/internal/mirror"
	pubsubpublisher "github.com/ferregold/image-scraper/internal/publisher/pubsub"
	"github.com/ferregold/image-scraper/internal/scraper"
	memorystorage "github.com/ferregold/image-scraper/internal/storage/memory"
	"github.com/ferregold/image-scraper/internal/storage/postgres"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()
	idGen := uuid.New()

	jobStore, janitor, closeStore, err := buildJobStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer closeStore()
	if janitor != nil {
		go janitor(ctx)
	}

	imageMirror, err := buildMirror(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("mirror init failed", zap.Error(err))
	}
	var archiver api.Archiver
	if imageMirror != nil {
		archiver = imageMirror
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	var runner *api.BatchRunner
	if cfg.Scraper.Enabled {
		runner = api.NewBatchRunner(
			jobStore,
			scraperFactory(cfg, logger),
			checker.New(cfg.CheckerTimeout()),
			cfg.ItemDelay(),
			archiver,
			publisher,
			cfg.PubSub.TopicName,
			logger.Named("runner"),
		)
	} else {
		logger.Info("scraping disabled, serving unavailable responses")
	}

	apiServer := api.NewServer(jobStore, runner, idGen, clock, ctx, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
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
}

// scraperFactory builds a fresh browser session per batch. The static variant
// swaps the chromedp catalog scraper for the colly one; the image-search
// fallback always needs a real browser.
func scraperFactory(cfg config.Config, logger *zap.Logger) api.ScraperFactory {
	return func(context.Context) (catalog.ImageFinder, catalog.ImageFinder, func(), error) {
		session := scraper.NewSession(scraper.SessionConfig{UserAgent: cfg.Scraper.UserAgent})

		var primary catalog.ImageFinder
		if cfg.Scraper.Static {
			primary = scraper.NewStaticCatalog(scraper.StaticConfig{
				UserAgent: cfg.Scraper.UserAgent,
				Timeout:   cfg.WaitTimeout(),
			}, logger.Named("catalog"))
		} else {
			primary = scraper.NewCatalog(session, cfg.WaitTimeout(), logger.Named("catalog"))
		}
		fallback := scraper.NewImageSearch(session, cfg.WaitTimeout(), cfg.SettleDelay(), logger.Named("imagesearch"))

		return primary, fallback, session.Close, nil
	}
}

func buildJobStore(
	ctx context.Context,
	cfg config.Config,
	clock catalog.Clock,
) (catalog.JobStore, func(context.Context), func(), error) {
	if cfg.Jobs.DSN != "" {
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{DSN: cfg.Jobs.DSN}, clock, cfg.JobTTL())
		if err != nil {
			return nil, nil, nil, err
		}
		janitor := func(ctx context.Context) { store.RunJanitor(ctx, cfg.SweepInterval()) }
		return store, janitor, store.Close, nil
	}

	store := memorystorage.NewJobStore(clock, cfg.JobTTL())
	janitor := func(ctx context.Context) { store.RunJanitor(ctx, cfg.SweepInterval()) }
	return store, janitor, func() {}, nil
}

func buildMirror(ctx context.Context, cfg config.Config, logger *zap.Logger) (*mirror.Mirror, error) {
	if !cfg.Mirror.Enabled {
		return nil, nil
	}

	var store catalog.BlobStore
	switch cfg.Mirror.Backend {
	case "memory":
		store = blobmemory.NewBlobStore()
	case "local":
		localStore, err := local.New(local.Config{BaseDir: cfg.Mirror.BaseDir})
		if err != nil {
			return nil, err
		}
		store = localStore
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		gcsStore, err := gcs.New(client, gcs.Config{Bucket: cfg.Mirror.GCSBucket})
		if err != nil {
			return nil, err
		}
		store = gcsStore
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}

	return mirror.New(store, nil, cfg.Mirror.Prefix, cfg.Mirror.MaxBytes, logger.Named("mirror")), nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (catalog.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if closeErr := pub.Close(); closeErr != nil {
			zap.L().Warn("pubsub close failed", zap.Error(closeErr))
		}
	}
	return pub, closeFn, nil
}
