package ingestion

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventTypeDatasetIngested is the event type published for every newly
// registered upload. The worker's dispatch table is keyed on this value.
const EventTypeDatasetIngested = "dataset.ingested"

// Stream entry field names. Entries are flat string-keyed maps; every value
// is string-encoded on the wire.
const (
	FieldEventType      = "event_type"
	FieldEventID        = "event_id"
	FieldOccurredAt     = "occurred_at"
	FieldDatasetID      = "dataset_id"
	FieldDatasetVersion = "dataset_version"
	FieldIngestionJobID = "ingestion_job_id"
	FieldObjectKey      = "object_key"
	FieldFileSize       = "file_size"
	FieldStatus         = "status"
	FieldRetryCount     = "retry_count"
	FieldRetriedAt      = "retried_at"
	FieldCompensatedAt  = "compensated_at"

	// Dead-letter-only fields.
	FieldFailedAt        = "failed_at"
	FieldFailedReason    = "failed_reason"
	FieldFailedMessageID = "failed_message_id"
	FieldFailedStream    = "failed_stream"
	FieldDLQMetadata     = "dlq_metadata"
)

// NewDatasetIngestedEvent builds the flat entry map for a dataset.ingested
// publish. event_id is unique per publish attempt.
func NewDatasetIngestedEvent(datasetID, datasetVersion, jobID, objectKey string, fileSize int64, occurredAt time.Time) map[string]string {
	return map[string]string{
		FieldEventType:      EventTypeDatasetIngested,
		FieldEventID:        uuid.NewString(),
		FieldOccurredAt:     occurredAt.UTC().Format(time.RFC3339Nano),
		FieldDatasetID:      datasetID,
		FieldDatasetVersion: datasetVersion,
		FieldIngestionJobID: jobID,
		FieldObjectKey:      objectKey,
		FieldFileSize:       strconv.FormatInt(fileSize, 10),
		FieldStatus:         "PENDING",
		FieldRetryCount:     "0",
	}
}

// RetryCount parses the retry_count carried on an entry, defaulting to 0.
func RetryCount(values map[string]string) int {
	n, err := strconv.Atoi(values[FieldRetryCount])
	if err != nil {
		return 0
	}
	return n
}
