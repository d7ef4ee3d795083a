package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LOMI1015/flowsight/pkg/postgres"
)

// PostgresStore implements Store on PostgreSQL. Tables live in a dedicated
// metadata schema ("ingestion" by default) and are only ever inserted into
// or updated by targeted single-row statements.
type PostgresStore struct {
	db     *postgres.Client
	schema string
}

// NewPostgresStore creates a store writing to the given metadata schema.
func NewPostgresStore(db *postgres.Client, schema string) *PostgresStore {
	return &PostgresStore{db: db, schema: schema}
}

func (s *PostgresStore) CreateDataset(ctx context.Context, d *Dataset) error {
	_, err := s.db.DB.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q.datasets (dataset_id, dataset_name, dataset_version, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`, s.schema),
		d.DatasetID, d.DatasetName, d.DatasetVersion, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting dataset %s: %w", d.DatasetID, err)
	}
	return nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, datasetID string) (*Dataset, error) {
	var d Dataset
	err := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT dataset_id, dataset_name, dataset_version, status, created_at, updated_at
		 FROM %q.datasets WHERE dataset_id = $1`, s.schema), datasetID).
		Scan(&d.DatasetID, &d.DatasetName, &d.DatasetVersion, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying dataset %s: %w", datasetID, err)
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDatasetStatus(ctx context.Context, datasetID, status string) error {
	_, err := s.db.DB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q.datasets SET status = $1, updated_at = $2 WHERE dataset_id = $3`, s.schema),
		status, time.Now().UTC(), datasetID)
	if err != nil {
		return fmt.Errorf("updating dataset %s status: %w", datasetID, err)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, j *IngestionJob) error {
	_, err := s.db.DB.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q.ingestion_jobs
		 (ingestion_job_id, idempotency_key, dataset_id, dataset_version, status,
		  filename, object_key, file_size, retry_count, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, s.schema),
		j.IngestionJobID, j.IdempotencyKey, j.DatasetID, j.DatasetVersion, j.Status,
		j.Filename, j.ObjectKey, j.FileSize, j.RetryCount, j.LastError, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting ingestion job %s: %w", j.IngestionJobID, err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, ingestionJobID string) (*IngestionJob, error) {
	return s.queryJob(ctx, "ingestion_job_id", ingestionJobID)
}

func (s *PostgresStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*IngestionJob, error) {
	return s.queryJob(ctx, "idempotency_key", key)
}

func (s *PostgresStore) queryJob(ctx context.Context, column, value string) (*IngestionJob, error) {
	var j IngestionJob
	err := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT ingestion_job_id, idempotency_key, dataset_id, dataset_version, status,
		        filename, object_key, file_size, retry_count, last_error, created_at, updated_at
		 FROM %q.ingestion_jobs WHERE %s = $1`, s.schema, column), value).
		Scan(&j.IngestionJobID, &j.IdempotencyKey, &j.DatasetID, &j.DatasetVersion, &j.Status,
			&j.Filename, &j.ObjectKey, &j.FileSize, &j.RetryCount, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ingestion job by %s: %w", column, err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, ingestionJobID, status string, retryCount int, lastError string) error {
	_, err := s.db.DB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q.ingestion_jobs
		 SET status = $1, retry_count = $2, last_error = $3, updated_at = $4
		 WHERE ingestion_job_id = $5`, s.schema),
		status, retryCount, TruncateError(lastError), time.Now().UTC(), ingestionJobID)
	if err != nil {
		return fmt.Errorf("updating job %s status: %w", ingestionJobID, err)
	}
	return nil
}
