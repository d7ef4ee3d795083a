// Package ingestion defines the dataset registration surface: request and
// response types, the stream event schema, idempotency-key derivation, and
// the registrar that accepts uploads exactly once.
package ingestion

import "fmt"

// CreateDatasetRequest is the JSON body accepted by the dataset creation
// endpoint. Version defaults to "v1" when omitted.
type CreateDatasetRequest struct {
	DatasetName    string `json:"dataset_name"`
	DatasetVersion string `json:"dataset_version"`
}

// CreateDatasetResponse is returned after a dataset is registered.
type CreateDatasetResponse struct {
	DatasetID      string `json:"dataset_id"`
	DatasetVersion string `json:"dataset_version"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// UploadResponse is returned after an upload is accepted, or replayed
// verbatim from the persisted job when the upload repeats an earlier one.
type UploadResponse struct {
	DatasetID      string `json:"dataset_id"`
	DatasetVersion string `json:"dataset_version"`
	IngestionJobID string `json:"ingestion_job_id"`
	Status         string `json:"status"`
	Filename       string `json:"filename"`
	ObjectKey      string `json:"object_key"`
	FileSize       int64  `json:"file_size"`
	CreatedAt      string `json:"created_at"`
}

// JobStatusResponse is the current persisted state of an ingestion job.
type JobStatusResponse struct {
	DatasetID      string `json:"dataset_id"`
	IngestionJobID string `json:"ingestion_job_id"`
	Status         string `json:"status"`
	Filename       string `json:"filename"`
	ObjectKey      string `json:"object_key"`
	FileSize       int64  `json:"file_size"`
	RetryCount     int    `json:"retry_count"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// IdempotencyKey derives the unique key identifying a logically-repeated
// upload: one job exists per (dataset, version, filename) triple.
func IdempotencyKey(datasetID, datasetVersion, filename string) string {
	return fmt.Sprintf("%s:%s:%s", datasetID, datasetVersion, filename)
}
