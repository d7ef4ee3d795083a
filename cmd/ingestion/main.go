// Command ingestion starts the dataset registration HTTP service.
//
// The service registers datasets via POST /api/v1/datasets, accepts
// idempotent uploads via POST /api/v1/datasets/{dataset_id}/upload, persists
// metadata to PostgreSQL, writes the raw object to the data lake, and
// publishes a dataset.ingested event for the processing worker. Job status
// is served at GET /api/v1/datasets/{dataset_id}/ingestions/{job_id}.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/LOMI1015/flowsight/internal/ingestion/handler"
	"github.com/LOMI1015/flowsight/internal/ingestion/objectstore"
	"github.com/LOMI1015/flowsight/internal/ingestion/registrar"
	"github.com/LOMI1015/flowsight/internal/metadata"
	"github.com/LOMI1015/flowsight/pkg/config"
	"github.com/LOMI1015/flowsight/pkg/health"
	"github.com/LOMI1015/flowsight/pkg/logger"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/middleware"
	"github.com/LOMI1015/flowsight/pkg/postgres"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

// main loads configuration, connects to PostgreSQL, Redis, and the object
// store, wires the registrar and HTTP handlers, and starts the server.
// Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	broker, err := stream.New(cfg.Redis, cfg.Stream.MaxLen)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	slog.Info("stream publisher initialized", "stream", cfg.Stream.StreamKey)

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
	reg := registrar.New(store, objects, broker, registrar.Options{
		StreamKey:       cfg.Stream.StreamKey,
		PublishRequired: cfg.Stream.PublishRequired,
	}, m)
	h := handler.New(reg, cfg.Server.MaxUploadBytes)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(broker.Ping))
	checker.Register("object-store", health.PingCheck(objects.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/datasets", h.CreateDataset)
	mux.HandleFunc("POST /api/v1/datasets/{dataset_id}/upload", h.Upload)
	mux.HandleFunc("GET /api/v1/datasets/{dataset_id}/ingestions/{ingestion_job_id}", h.JobStatus)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.RequestTimeout)(root)
	if m != nil {
		root = middleware.Metrics(m)(root)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
