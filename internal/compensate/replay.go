// Package compensate moves dead-lettered entries back onto the main stream
// for reprocessing. Replay is a manual, at-least-once hand-back: it assumes
// an operator has addressed the root cause first.
package compensate

import (
	"context"
	"log/slog"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

// StreamOps is the subset of broker operations replay needs.
type StreamOps interface {
	Publish(ctx context.Context, stream string, values map[string]string) (string, error)
	Range(ctx context.Context, stream, start, stop string, count int64) ([]stream.Entry, error)
	Delete(ctx context.Context, stream string, ids ...string) error
}

// Replayer hands dead-lettered entries back to the main stream.
type Replayer struct {
	stream    StreamOps
	streamKey string
	dlqKey    string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Replayer. m may be nil.
func New(s StreamOps, streamKey, dlqKey string, m *metrics.Metrics) *Replayer {
	return &Replayer{
		stream:    s,
		streamKey: streamKey,
		dlqKey:    dlqKey,
		metrics:   m,
		logger:    slog.Default().With("component", "compensate"),
	}
}

// ReplayOne republishes the dead-letter entry with the given id onto the
// main stream with retry_count reset and the failure-only fields stripped,
// then deletes it from the dead-letter stream. A missing entry is reported
// and returns false without error.
func (r *Replayer) ReplayOne(ctx context.Context, entryID string) (bool, error) {
	entries, err := r.stream.Range(ctx, r.dlqKey, entryID, entryID, 1)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		r.logger.Warn("dlq entry not found", "entry_id", entryID)
		return false, nil
	}
	entry := entries[0]

	values := make(map[string]string, len(entry.Values))
	for k, v := range entry.Values {
		values[k] = v
	}
	delete(values, ingestion.FieldFailedAt)
	delete(values, ingestion.FieldFailedReason)
	delete(values, ingestion.FieldFailedMessageID)
	delete(values, ingestion.FieldFailedStream)
	delete(values, ingestion.FieldDLQMetadata)
	values[ingestion.FieldRetryCount] = "0"
	values[ingestion.FieldCompensatedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := r.stream.Publish(ctx, r.streamKey, values); err != nil {
		return false, err
	}
	if err := r.stream.Delete(ctx, r.dlqKey, entry.ID); err != nil {
		return false, err
	}
	if r.metrics != nil {
		r.metrics.ReplayedTotal.Inc()
	}
	r.logger.Info("dlq entry replayed",
		"entry_id", entry.ID,
		"stream", r.streamKey,
	)
	return true, nil
}

// ReplayBatch replays up to count oldest dead-letter entries, each
// independently; one entry's failure does not stop the rest. It returns
// the number successfully replayed.
func (r *Replayer) ReplayBatch(ctx context.Context, count int64) (int, error) {
	entries, err := r.stream.Range(ctx, r.dlqKey, "-", "+", count)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, entry := range entries {
		ok, err := r.ReplayOne(ctx, entry.ID)
		if err != nil {
			r.logger.Error("replay failed", "entry_id", entry.ID, "error", err)
			continue
		}
		if ok {
			replayed++
		}
	}
	return replayed, nil
}
