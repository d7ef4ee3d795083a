// Package metadata persists Dataset and IngestionJob entities and their
// status transitions. Rows are never deleted; the job table is an
// append-only audit trail of every upload attempt.
package metadata

import (
	"context"
	"time"
)

// Lifecycle statuses shared by datasets and ingestion jobs. A dataset starts
// at CREATED; a job starts at PENDING. Both then follow
// PENDING → RUNNING → SUCCEEDED | FAILED.
const (
	StatusCreated   = "CREATED"
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// MaxLastErrorLen bounds the stored last_error text.
const MaxLastErrorLen = 2000

// Dataset is a named, versioned logical dataset.
type Dataset struct {
	DatasetID      string
	DatasetName    string
	DatasetVersion string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IngestionJob records a single upload attempt for a dataset version. The
// idempotency key is unique, so at most one job exists per
// (dataset, version, filename) triple.
type IngestionJob struct {
	IngestionJobID string
	IdempotencyKey string
	DatasetID      string
	DatasetVersion string
	Status         string
	Filename       string
	ObjectKey      string
	FileSize       int64
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the metadata persistence contract. Lookups return (nil, nil)
// when the entity does not exist. Dataset and job updates are independent
// single-row commits with no cross-entity transaction; the two can be
// transiently inconsistent after a crash between them.
type Store interface {
	CreateDataset(ctx context.Context, d *Dataset) error
	GetDataset(ctx context.Context, datasetID string) (*Dataset, error)
	UpdateDatasetStatus(ctx context.Context, datasetID, status string) error

	CreateJob(ctx context.Context, j *IngestionJob) error
	GetJob(ctx context.Context, ingestionJobID string) (*IngestionJob, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*IngestionJob, error)
	UpdateJobStatus(ctx context.Context, ingestionJobID, status string, retryCount int, lastError string) error
}

// TruncateError bounds an error message to MaxLastErrorLen for storage.
func TruncateError(msg string) string {
	if len(msg) > MaxLastErrorLen {
		return msg[:MaxLastErrorLen]
	}
	return msg
}
