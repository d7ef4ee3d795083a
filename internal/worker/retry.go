package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"log/slog"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/pkg/config"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

// Policy decides what happens to a failed entry: exponential-backoff retry
// by publishing a successor entry, or dead-letter routing once retries are
// exhausted or the failure is permanent.
//
// Retries are successor publishes, not native redelivery claims: a crash
// after the original is acknowledged but before the successor lands drops
// that retry. The window is narrow and accepted; the ack is therefore
// ordered after the successor publish.
type Policy struct {
	stream  Stream
	cfg     config.StreamConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates the retry policy. m may be nil.
func NewPolicy(s Stream, cfg config.StreamConfig, m *metrics.Metrics) *Policy {
	return &Policy{
		stream:  s,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "retry-policy"),
		sleep:   sleepCtx,
	}
}

// Backoff returns min(base * 2^(attempt-1), cap).
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// HandleFailure routes a failed entry. The original entry is only
// acknowledged after its successor or dead-letter record is durable; if
// neither lands, the entry stays pending for redelivery.
func (p *Policy) HandleFailure(ctx context.Context, entry stream.Entry, cause error) {
	current := ingestion.RetryCount(entry.Values)
	next := current + 1

	if apperrors.IsPermanent(cause) {
		p.logger.Error("permanent failure, dead-lettering",
			"entry_id", entry.ID,
			"error", cause,
		)
		p.deadLetter(ctx, entry, cause, current)
		return
	}
	if next > p.cfg.MaxRetryCount {
		p.logger.Error("entry exceeded max retry",
			"entry_id", entry.ID,
			"retry_count", current,
			"max_retry_count", p.cfg.MaxRetryCount,
			"error", cause,
		)
		p.deadLetter(ctx, entry, cause, current)
		return
	}

	delay := Backoff(next, p.cfg.BackoffBase, p.cfg.BackoffCap)
	p.logger.Warn("handler failed, retrying",
		"entry_id", entry.ID,
		"retry", next,
		"max_retry_count", p.cfg.MaxRetryCount,
		"backoff", delay,
		"error", cause,
	)
	// Head-of-line blocking: the whole worker waits out the backoff. A
	// cancelled wait leaves the entry pending for redelivery.
	if err := p.sleep(ctx, delay); err != nil {
		return
	}

	successor := copyValues(entry.Values)
	successor[ingestion.FieldRetryCount] = strconv.Itoa(next)
	successor[ingestion.FieldStatus] = "PENDING"
	successor[ingestion.FieldRetriedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := p.stream.Publish(ctx, p.cfg.StreamKey, successor); err != nil {
		p.logger.Error("failed to publish retry successor", "entry_id", entry.ID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.RetriesTotal.Inc()
	}
	p.ack(ctx, entry.ID)
}

// deadLetter appends the entry with failure context to the DLQ stream and
// acknowledges the original.
func (p *Policy) deadLetter(ctx context.Context, entry stream.Entry, cause error, retryCount int) {
	dlqMeta, _ := json.Marshal(struct {
		MaxRetryCount int    `json:"max_retry_count"`
		ConsumerGroup string `json:"consumer_group"`
		ConsumerName  string `json:"consumer_name"`
	}{p.cfg.MaxRetryCount, p.cfg.ConsumerGroup, p.cfg.ConsumerName})

	values := copyValues(entry.Values)
	values[ingestion.FieldFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	values[ingestion.FieldFailedReason] = cause.Error()
	values[ingestion.FieldFailedMessageID] = entry.ID
	values[ingestion.FieldFailedStream] = p.cfg.StreamKey
	values[ingestion.FieldRetryCount] = strconv.Itoa(retryCount)
	values[ingestion.FieldDLQMetadata] = string(dlqMeta)

	if _, err := p.stream.Publish(ctx, p.cfg.DLQStreamKey, values); err != nil {
		p.logger.Error("failed to publish to dead-letter stream", "entry_id", entry.ID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.DeadLetteredTotal.Inc()
	}
	p.logger.Error("entry moved to dlq",
		"source_stream", p.cfg.StreamKey,
		"source_id", entry.ID,
		"dlq_stream", p.cfg.DLQStreamKey,
	)
	p.ack(ctx, entry.ID)
}

func (p *Policy) ack(ctx context.Context, id string) {
	if err := p.stream.Ack(ctx, p.cfg.StreamKey, p.cfg.ConsumerGroup, id); err != nil {
		p.logger.Error("failed to ack entry", "entry_id", id, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values)+6)
	for k, v := range values {
		out[k] = v
	}
	return out
}

