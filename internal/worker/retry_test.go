package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/pkg/config"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
	"github.com/LOMI1015/flowsight/pkg/stream"
)

// fakeStream records broker calls in memory.
type fakeStream struct {
	mu        sync.Mutex
	published map[string][]map[string]string
	acked     []string
	entries   []stream.Entry
	pubErr    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{published: make(map[string][]map[string]string)}
}

func (f *fakeStream) EnsureGroup(ctx context.Context, stream, group string) error { return nil }

func (f *fakeStream) ReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.entries
	f.entries = nil
	return out, nil
}

func (f *fakeStream) Ack(ctx context.Context, key, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeStream) Publish(ctx context.Context, key string, values map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return "", f.pubErr
	}
	f.published[key] = append(f.published[key], values)
	return fmt.Sprintf("%d-0", len(f.published[key])), nil
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		StreamKey:     "dataset.events",
		DLQStreamKey:  "dataset.events.dlq",
		ConsumerGroup: "processing-group",
		ConsumerName:  "processing-test",
		MaxRetryCount: 3,
		BackoffBase:   2 * time.Second,
		BackoffCap:    60 * time.Second,
	}
}

func newTestPolicy(fs *fakeStream) *Policy {
	p := NewPolicy(fs, testStreamConfig(), nil)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	max := 60 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{0, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// TestHandleFailureRetries verifies that a retryable failure publishes a
// successor entry with the retry count incremented and only then
// acknowledges the original.
func TestHandleFailureRetries(t *testing.T) {
	fs := newFakeStream()
	p := newTestPolicy(fs)

	entry := stream.Entry{
		ID: "100-0",
		Values: map[string]string{
			ingestion.FieldEventType:      ingestion.EventTypeDatasetIngested,
			ingestion.FieldIngestionJobID: "job-1",
			ingestion.FieldObjectKey:      "raw/d1/v1/file.csv",
			ingestion.FieldRetryCount:     "0",
			ingestion.FieldStatus:         "PENDING",
		},
	}
	p.HandleFailure(context.Background(), entry, errors.New("transient"))

	successors := fs.published["dataset.events"]
	if len(successors) != 1 {
		t.Fatalf("expected 1 successor entry, got %d", len(successors))
	}
	s := successors[0]
	if s[ingestion.FieldRetryCount] != "1" {
		t.Errorf("successor retry_count = %q, want %q", s[ingestion.FieldRetryCount], "1")
	}
	if s[ingestion.FieldStatus] != "PENDING" {
		t.Errorf("successor status = %q, want PENDING", s[ingestion.FieldStatus])
	}
	if s[ingestion.FieldRetriedAt] == "" {
		t.Error("successor retried_at not set")
	}
	if s[ingestion.FieldObjectKey] != "raw/d1/v1/file.csv" {
		t.Errorf("business field changed: object_key = %q", s[ingestion.FieldObjectKey])
	}
	if len(fs.published["dataset.events.dlq"]) != 0 {
		t.Errorf("unexpected dlq entries: %d", len(fs.published["dataset.events.dlq"]))
	}
	if len(fs.acked) != 1 || fs.acked[0] != "100-0" {
		t.Errorf("acked = %v, want [100-0]", fs.acked)
	}
}

// TestHandleFailureExhaustion verifies that once retry_count has reached the
// configured maximum the entry moves to the dead-letter stream with failure
// context attached, and no further successor is published.
func TestHandleFailureExhaustion(t *testing.T) {
	fs := newFakeStream()
	p := newTestPolicy(fs)

	cause := errors.New("still broken")
	entry := stream.Entry{
		ID: "200-0",
		Values: map[string]string{
			ingestion.FieldEventType:      ingestion.EventTypeDatasetIngested,
			ingestion.FieldIngestionJobID: "job-2",
			ingestion.FieldRetryCount:     "3",
		},
	}
	p.HandleFailure(context.Background(), entry, cause)

	if n := len(fs.published["dataset.events"]); n != 0 {
		t.Fatalf("expected no successor after exhaustion, got %d", n)
	}
	dlq := fs.published["dataset.events.dlq"]
	if len(dlq) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq))
	}
	d := dlq[0]
	if d[ingestion.FieldFailedReason] != "still broken" {
		t.Errorf("failed_reason = %q", d[ingestion.FieldFailedReason])
	}
	if d[ingestion.FieldFailedMessageID] != "200-0" {
		t.Errorf("failed_message_id = %q", d[ingestion.FieldFailedMessageID])
	}
	if d[ingestion.FieldFailedStream] != "dataset.events" {
		t.Errorf("failed_stream = %q", d[ingestion.FieldFailedStream])
	}
	if d[ingestion.FieldFailedAt] == "" {
		t.Error("failed_at not set")
	}
	if d[ingestion.FieldRetryCount] != "3" {
		t.Errorf("dlq retry_count = %q, want 3", d[ingestion.FieldRetryCount])
	}

	var meta struct {
		MaxRetryCount int    `json:"max_retry_count"`
		ConsumerGroup string `json:"consumer_group"`
		ConsumerName  string `json:"consumer_name"`
	}
	if err := json.Unmarshal([]byte(d[ingestion.FieldDLQMetadata]), &meta); err != nil {
		t.Fatalf("dlq_metadata is not valid JSON: %v", err)
	}
	if meta.MaxRetryCount != 3 || meta.ConsumerGroup != "processing-group" {
		t.Errorf("dlq_metadata = %+v", meta)
	}

	if len(fs.acked) != 1 || fs.acked[0] != "200-0" {
		t.Errorf("acked = %v, want [200-0]", fs.acked)
	}
}

// TestHandleFailurePermanent verifies that permanent failures bypass the
// retry loop entirely.
func TestHandleFailurePermanent(t *testing.T) {
	fs := newFakeStream()
	p := newTestPolicy(fs)

	entry := stream.Entry{
		ID: "300-0",
		Values: map[string]string{
			ingestion.FieldEventType:  ingestion.EventTypeDatasetIngested,
			ingestion.FieldRetryCount: "0",
		},
	}
	p.HandleFailure(context.Background(), entry, apperrors.Permanentf("unsupported file extension"))

	if n := len(fs.published["dataset.events"]); n != 0 {
		t.Fatalf("permanent failure must not be retried, got %d successors", n)
	}
	if n := len(fs.published["dataset.events.dlq"]); n != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", n)
	}
	if fs.published["dataset.events.dlq"][0][ingestion.FieldRetryCount] != "0" {
		t.Errorf("dlq retry_count = %q, want 0", fs.published["dataset.events.dlq"][0][ingestion.FieldRetryCount])
	}
	if len(fs.acked) != 1 {
		t.Errorf("acked = %v, want exactly the original", fs.acked)
	}
}

// TestHandleFailurePublishErrorLeavesPending verifies the ack-after-outcome
// ordering: if neither the successor nor the dead-letter record lands, the
// original entry is never acknowledged.
func TestHandleFailurePublishErrorLeavesPending(t *testing.T) {
	fs := newFakeStream()
	fs.pubErr = errors.New("broker down")
	p := newTestPolicy(fs)

	entry := stream.Entry{
		ID:     "400-0",
		Values: map[string]string{ingestion.FieldRetryCount: "0"},
	}
	p.HandleFailure(context.Background(), entry, errors.New("transient"))

	if len(fs.acked) != 0 {
		t.Errorf("entry acked despite failed successor publish: %v", fs.acked)
	}
}

// TestHandleFailureCancelledBackoff verifies that a cancelled backoff wait
// leaves the entry pending instead of publishing a successor.
func TestHandleFailureCancelledBackoff(t *testing.T) {
	fs := newFakeStream()
	p := NewPolicy(fs, testStreamConfig(), nil)
	p.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	entry := stream.Entry{
		ID:     "500-0",
		Values: map[string]string{ingestion.FieldRetryCount: "0"},
	}
	p.HandleFailure(context.Background(), entry, errors.New("transient"))

	if len(fs.published["dataset.events"]) != 0 {
		t.Error("successor published after cancelled backoff")
	}
	if len(fs.acked) != 0 {
		t.Errorf("entry acked after cancelled backoff: %v", fs.acked)
	}
}
