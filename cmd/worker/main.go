// Command worker starts a processing worker. Each process joins the shared
// consumer group under a process-unique consumer name; running more
// processes scales consumption horizontally without coordination.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/ingestion/objectstore"
	"github.com/LOMI1015/flowsight/internal/metadata"
	"github.com/LOMI1015/flowsight/internal/pipeline"
	"github.com/LOMI1015/flowsight/internal/worker"
	"github.com/LOMI1015/flowsight/pkg/config"
	"github.com/LOMI1015/flowsight/pkg/logger"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/postgres"
	"github.com/LOMI1015/flowsight/pkg/stream"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting processing worker",
		"stream", cfg.Stream.StreamKey,
		"consumer_group", cfg.Stream.ConsumerGroup,
		"consumer_name", cfg.Stream.ConsumerName,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	broker, err := stream.New(cfg.Redis, cfg.Stream.MaxLen)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	objects, err := objectstore.New(context.Background(), cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize object store", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	store := metadata.NewPostgresStore(db, cfg.Postgres.MetadataSchema)
	pipe := pipeline.New(db, objects, pipeline.CSVDecoder{}, cfg.Pipeline, m)
	handlers := map[string]worker.Handler{
		ingestion.EventTypeDatasetIngested: worker.NewDatasetIngestedHandler(store, pipe),
	}
	consumer := worker.NewConsumer(broker, handlers, cfg.Stream, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("worker error", "error", err)
	}

	if metricsShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	slog.Info("processing worker stopped")
}
