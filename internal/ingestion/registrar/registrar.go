// Package registrar creates datasets, accepts uploads idempotently, writes
// raw objects to the data lake, persists ingestion jobs, and publishes
// dataset.ingested events to the main stream.
package registrar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/ingestion/objectstore"
	"github.com/LOMI1015/flowsight/internal/metadata"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/google/uuid"
)

// EventPublisher appends a flat entry to the named stream and returns the
// broker-assigned entry id.
type EventPublisher interface {
	Publish(ctx context.Context, stream string, values map[string]string) (string, error)
}

// Options carries the stream key and publish policy for the registrar.
type Options struct {
	StreamKey string
	// PublishRequired makes a failed event publish visible to the caller
	// as service-unavailable. The job row and raw object remain durable
	// either way.
	PublishRequired bool
}

// Registrar coordinates dataset registration: metadata rows, raw object
// writes, and event publication.
type Registrar struct {
	store   metadata.Store
	objects objectstore.Store
	events  EventPublisher
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Registrar. m may be nil when metrics are disabled.
func New(store metadata.Store, objects objectstore.Store, events EventPublisher, opts Options, m *metrics.Metrics) *Registrar {
	return &Registrar{
		store:   store,
		objects: objects,
		events:  events,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "registrar"),
		now:     time.Now,
	}
}

// CreateDataset registers a new dataset with status CREATED. Repeated calls
// create distinct datasets; there is no idempotency at this level.
func (r *Registrar) CreateDataset(ctx context.Context, req *ingestion.CreateDatasetRequest) (*ingestion.CreateDatasetResponse, error) {
	name := strings.TrimSpace(req.DatasetName)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "dataset_name is required")
	}
	version := req.DatasetVersion
	if version == "" {
		version = "v1"
	}

	now := r.now().UTC()
	d := &metadata.Dataset{
		DatasetID:      uuid.NewString(),
		DatasetName:    name,
		DatasetVersion: version,
		Status:         metadata.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateDataset(ctx, d); err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}
	r.logger.Info("dataset created",
		"dataset_id", d.DatasetID,
		"dataset_version", d.DatasetVersion,
	)
	return &ingestion.CreateDatasetResponse{
		DatasetID:      d.DatasetID,
		DatasetVersion: d.DatasetVersion,
		Status:         d.Status,
		CreatedAt:      now.Format(time.RFC3339Nano),
	}, nil
}

// Upload accepts a file for the dataset. Repeated uploads with the same
// (dataset, version, filename) triple return the first job's persisted
// state without writing a new object, job row, or stream entry.
func (r *Registrar) Upload(ctx context.Context, datasetID, filename string, file io.Reader) (*ingestion.UploadResponse, error) {
	dataset, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset: %w", err)
	}
	if dataset == nil {
		return nil, apperrors.Newf(apperrors.ErrDatasetNotFound, http.StatusNotFound, "dataset not found: %s", datasetID)
	}
	if filename == "" {
		filename = "unnamed.bin"
	}

	key := ingestion.IdempotencyKey(datasetID, dataset.DatasetVersion, filename)
	existing, err := r.store.GetJobByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}
	if existing != nil {
		r.logger.Info("duplicate upload absorbed",
			"idempotency_key", key,
			"ingestion_job_id", existing.IngestionJobID,
		)
		return uploadResponse(existing), nil
	}

	now := r.now().UTC()
	objectKey := buildObjectKey(datasetID, dataset.DatasetVersion, filename, now)
	size, err := r.objects.Put(ctx, objectKey, file, -1)
	if err != nil {
		return nil, fmt.Errorf("storing raw object: %w", err)
	}
	if r.metrics != nil {
		r.metrics.UploadBytesTotal.Add(float64(size))
	}

	job := &metadata.IngestionJob{
		IngestionJobID: uuid.NewString(),
		IdempotencyKey: key,
		DatasetID:      datasetID,
		DatasetVersion: dataset.DatasetVersion,
		Status:         metadata.StatusPending,
		Filename:       filename,
		ObjectKey:      objectKey,
		FileSize:       size,
		RetryCount:     0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting ingestion job: %w", err)
	}
	if err := r.store.UpdateDatasetStatus(ctx, datasetID, metadata.StatusPending); err != nil {
		return nil, fmt.Errorf("updating dataset status: %w", err)
	}

	event := ingestion.NewDatasetIngestedEvent(datasetID, dataset.DatasetVersion, job.IngestionJobID, objectKey, size, now)
	if _, err := r.events.Publish(ctx, r.opts.StreamKey, event); err != nil {
		if r.metrics != nil {
			r.metrics.EventsPublishedTotal.WithLabelValues(r.opts.StreamKey, "error").Inc()
		}
		// The job row and object are durable; losing the notification is
		// recoverable, so by default the upload still succeeds.
		r.logger.Error("publish dataset.ingested failed",
			"ingestion_job_id", job.IngestionJobID,
			"stream", r.opts.StreamKey,
			"error", err,
		)
		if r.opts.PublishRequired {
			return nil, apperrors.New(apperrors.ErrPublishUnavailable, http.StatusServiceUnavailable, "publish dataset.ingested failed")
		}
	} else if r.metrics != nil {
		r.metrics.EventsPublishedTotal.WithLabelValues(r.opts.StreamKey, "ok").Inc()
	}

	r.logger.Info("upload registered",
		"dataset_id", datasetID,
		"ingestion_job_id", job.IngestionJobID,
		"object_key", objectKey,
		"file_size", size,
	)
	return uploadResponse(job), nil
}

// JobStatus returns the persisted state of a job belonging to the dataset.
func (r *Registrar) JobStatus(ctx context.Context, datasetID, jobID string) (*ingestion.JobStatusResponse, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	if job == nil || job.DatasetID != datasetID {
		return nil, apperrors.New(apperrors.ErrJobNotFound, http.StatusNotFound, "ingestion job not found")
	}
	return &ingestion.JobStatusResponse{
		DatasetID:      job.DatasetID,
		IngestionJobID: job.IngestionJobID,
		Status:         job.Status,
		Filename:       job.Filename,
		ObjectKey:      job.ObjectKey,
		FileSize:       job.FileSize,
		RetryCount:     job.RetryCount,
		LastError:      job.LastError,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// buildObjectKey derives a version-scoped object location. The timestamp is
// stripped of separators so the key stays filesystem- and S3-safe.
func buildObjectKey(datasetID, version, filename string, now time.Time) string {
	ts := strings.NewReplacer(":", "", "-", "", ".", "").Replace(now.Format(time.RFC3339Nano))
	return fmt.Sprintf("raw/%s/%s/%s_%s", datasetID, version, ts, filename)
}

func uploadResponse(job *metadata.IngestionJob) *ingestion.UploadResponse {
	return &ingestion.UploadResponse{
		DatasetID:      job.DatasetID,
		DatasetVersion: job.DatasetVersion,
		IngestionJobID: job.IngestionJobID,
		Status:         job.Status,
		Filename:       job.Filename,
		ObjectKey:      job.ObjectKey,
		FileSize:       job.FileSize,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
