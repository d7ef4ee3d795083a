// Package worker consumes the dataset event stream as a consumer group,
// dispatches entries to handlers through a closed dispatch table, and owns
// the retry/backoff/dead-letter policy. Each worker process is a single
// sequential loop; scale-out is achieved by running more processes under
// the same group name.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/pkg/config"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

// Stream is the subset of broker operations the worker needs.
type Stream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error)
	Ack(ctx context.Context, stream, group, id string) error
	Publish(ctx context.Context, stream string, values map[string]string) (string, error)
}

// Handler processes one recognized stream entry. A returned error routes
// the entry through the retry policy; wrap with apperrors.Permanent to send
// it straight to the dead-letter stream.
type Handler func(ctx context.Context, values map[string]string) error

// Consumer drives the processing loop for one worker process.
type Consumer struct {
	stream   Stream
	handlers map[string]Handler
	policy   *Policy
	cfg      config.StreamConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewConsumer wires the dispatch table and retry policy. The table is
// closed: only the event types registered here are ever processed, and
// anything else is acknowledged and dropped. m may be nil.
func NewConsumer(s Stream, handlers map[string]Handler, cfg config.StreamConfig, m *metrics.Metrics) *Consumer {
	return &Consumer{
		stream:   s,
		handlers: handlers,
		policy:   NewPolicy(s, cfg, m),
		cfg:      cfg,
		metrics:  m,
		logger: slog.Default().With(
			"component", "processing-worker",
			"consumer_group", cfg.ConsumerGroup,
			"consumer_name", cfg.ConsumerName,
		),
	}
}

// Start ensures the consumer group exists and enters the consume loop. It
// blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.stream.EnsureGroup(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup); err != nil {
		return err
	}
	c.logger.Info("worker started", "stream", c.cfg.StreamKey)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker stopping", "reason", ctx.Err())
			return nil
		default:
		}

		entries, err := c.stream.ReadGroup(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, c.cfg.ConsumerName, c.cfg.BatchSize, c.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to read from stream", "error", err)
			continue
		}
		for _, entry := range entries {
			c.process(ctx, entry)
		}
	}
}

// process handles a single entry and acknowledges it once its outcome is
// decided. Entries whose handler did not run to completion stay pending for
// redelivery to the group.
func (c *Consumer) process(ctx context.Context, entry stream.Entry) {
	eventType := entry.Values[ingestion.FieldEventType]
	handler, ok := c.handlers[eventType]
	if !ok {
		// Unknown shapes are not retryable: redelivery cannot make them
		// recognizable.
		c.logger.Warn("unknown event type, dropping",
			"event_type", eventType,
			"entry_id", entry.ID,
		)
		if c.metrics != nil {
			c.metrics.EventsConsumedTotal.WithLabelValues(eventType, "unknown").Inc()
		}
		c.ack(ctx, entry.ID)
		return
	}

	if err := handler(ctx, entry.Values); err != nil {
		if c.metrics != nil {
			c.metrics.EventsConsumedTotal.WithLabelValues(eventType, "failed").Inc()
		}
		c.policy.HandleFailure(ctx, entry, err)
		return
	}
	if c.metrics != nil {
		c.metrics.EventsConsumedTotal.WithLabelValues(eventType, "succeeded").Inc()
	}
	c.ack(ctx, entry.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.stream.Ack(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, id); err != nil {
		c.logger.Error("failed to ack entry", "entry_id", id, "error", err)
	}
}
