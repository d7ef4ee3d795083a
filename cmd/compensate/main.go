// Command compensate replays dead-lettered entries back onto the main
// stream. It is an offline operator tool: run it after the root cause of
// the failures has been addressed.
//
// Usage:
//
//	go run ./cmd/compensate -entry-id 1714000000000-0
//	go run ./cmd/compensate -count 10
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/LOMI1015/flowsight/internal/compensate"
	"github.com/LOMI1015/flowsight/pkg/config"
	"github.com/LOMI1015/flowsight/pkg/logger"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	entryID := flag.String("entry-id", "", "specific dead-letter entry id to replay")
	count := flag.Int64("count", 10, "replay the oldest N entries when -entry-id is absent")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	broker, err := stream.New(cfg.Redis, cfg.Stream.MaxLen)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	replayer := compensate.New(broker, cfg.Stream.StreamKey, cfg.Stream.DLQStreamKey, nil)
	ctx := context.Background()

	if *entryID != "" {
		ok, err := replayer.ReplayOne(ctx, *entryID)
		if err != nil {
			slog.Error("replay failed", "entry_id", *entryID, "error", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	replayed, err := replayer.ReplayBatch(ctx, *count)
	if err != nil {
		slog.Error("batch replay failed", "error", err)
		os.Exit(1)
	}
	slog.Info("dlq replay done", "replayed", replayed)
}
