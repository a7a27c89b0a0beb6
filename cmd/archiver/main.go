// Package main wires together the archiver service binary.
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

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/api"
	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/chain"
	"github.com/bigwebarchive/archiver/internal/clock/system"
	"github.com/bigwebarchive/archiver/internal/config"
	"github.com/bigwebarchive/archiver/internal/hash/sha256"
	"github.com/bigwebarchive/archiver/internal/id/uuid"
	"github.com/bigwebarchive/archiver/internal/logging"
	"github.com/bigwebarchive/archiver/internal/metrics"
	gcsnet "github.com/bigwebarchive/archiver/internal/objectnet/gcs"
	memnet "github.com/bigwebarchive/archiver/internal/objectnet/memory"
	minionet "github.com/bigwebarchive/archiver/internal/objectnet/minio"
	"github.com/bigwebarchive/archiver/internal/pipeline"
	pubsubpublisher "github.com/bigwebarchive/archiver/internal/publisher/pubsub"
	"github.com/bigwebarchive/archiver/internal/renderer"
	"github.com/bigwebarchive/archiver/internal/storage/file"
	"github.com/bigwebarchive/archiver/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("archiver", cfg.Logging.Development)
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
		logger.Error("archiver exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	jobStore, err := file.New(file.Config{JobsDir: cfg.Storage.JobsDir}, idGen, clock, logger.Named("jobs"))
	if err != nil {
		return fmt.Errorf("job store init: %w", err)
	}
	// Jobs left mid-flight by a previous process cannot resume; mark them
	// failed before accepting new work.
	swept, err := jobStore.FailStale(ctx)
	if err != nil {
		return fmt.Errorf("stale job sweep: %w", err)
	}
	if swept > 0 {
		logger.Info("marked stale jobs failed", zap.Int("count", swept))
	}

	layout, err := file.NewLayout(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("data layout init: %w", err)
	}

	objectNet, err := buildObjectNetwork(ctx, cfg.ObjectNet)
	if err != nil {
		return fmt.Errorf("object network init: %w", err)
	}

	var history archive.HistoryStore
	if cfg.DB.DSN != "" {
		store, err := postgres.NewHistoryStore(ctx, postgres.HistoryStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MaxIdleConns),
		})
		if err != nil {
			return fmt.Errorf("history store init: %w", err)
		}
		defer store.Close()
		history = store
	}

	chainMgr := chain.New(objectNet, hasher, clock, history, cfg.Chain, logger.Named("chain"))

	rend, err := renderer.NewChromedp(cfg.Renderer, logger.Named("renderer"))
	if err != nil {
		return fmt.Errorf("renderer init: %w", err)
	}
	defer func() {
		if cerr := rend.Close(); cerr != nil {
			logger.Warn("renderer close", zap.Error(cerr))
		}
	}()

	var events archive.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init: %w", err)
		}
		pub := pubsubpublisher.New(client)
		defer func() {
			if cerr := pub.Close(); cerr != nil {
				logger.Warn("pubsub close", zap.Error(cerr))
			}
		}()
		events = pub
	}

	pipe := pipeline.New(jobStore, layout, rend, chainMgr, events, cfg.PubSub.TopicName, clock, logger.Named("pipeline"))
	runner := pipeline.NewRunner(pipe, cfg.Pipeline.Parallelism, logger.Named("runner"))

	apiServer := api.NewServer(jobStore, runner, layout, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("runner shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildObjectNetwork(ctx context.Context, cfg config.ObjectNetConfig) (archive.ObjectNetwork, error) {
	switch cfg.Provider {
	case "minio":
		return minionet.New(ctx, minionet.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsnet.New(client, gcsnet.Config{Bucket: cfg.GCSBucket})
	case "memory":
		return memnet.New(), nil
	default:
		return nil, fmt.Errorf("unknown objectnet provider %q", cfg.Provider)
	}
}
