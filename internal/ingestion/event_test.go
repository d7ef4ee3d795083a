package ingestion

import (
	"testing"
	"time"
)

func TestNewDatasetIngestedEvent(t *testing.T) {
	occurred := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := NewDatasetIngestedEvent("d-1", "v1", "job-1", "raw/d-1/v1/f.csv", 1024, occurred)
	b := NewDatasetIngestedEvent("d-1", "v1", "job-1", "raw/d-1/v1/f.csv", 1024, occurred)

	if a[FieldEventType] != EventTypeDatasetIngested {
		t.Errorf("event_type = %q", a[FieldEventType])
	}
	if a[FieldStatus] != "PENDING" || a[FieldRetryCount] != "0" {
		t.Errorf("fresh event status/retry = %q/%q", a[FieldStatus], a[FieldRetryCount])
	}
	if a[FieldFileSize] != "1024" {
		t.Errorf("file_size = %q", a[FieldFileSize])
	}
	if a[FieldOccurredAt] != "2026-03-14T09:30:00Z" {
		t.Errorf("occurred_at = %q", a[FieldOccurredAt])
	}
	if a[FieldEventID] == "" || a[FieldEventID] == b[FieldEventID] {
		t.Errorf("event_id must be unique per publish: %q vs %q", a[FieldEventID], b[FieldEventID])
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"0", 0},
		{"3", 3},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		values := map[string]string{FieldRetryCount: tt.value}
		if got := RetryCount(values); got != tt.want {
			t.Errorf("RetryCount(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey("d-1", "v2", "sessions.csv"); got != "d-1:v2:sessions.csv" {
		t.Errorf("key = %q", got)
	}
}
