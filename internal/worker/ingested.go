package worker

import (
	"context"
	"log/slog"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/metadata"
	"github.com/LOMI1015/flowsight/internal/pipeline"
)

// PipelineRunner runs the transformation for one event.
type PipelineRunner interface {
	Run(ctx context.Context, event map[string]string) (pipeline.Result, error)
}

// NewDatasetIngestedHandler returns the handler for dataset.ingested
// entries: it walks the job and dataset through RUNNING and then
// SUCCEEDED or FAILED around the pipeline run. Job and dataset updates are
// independent commits; a crash between them leaves transient skew that the
// next transition heals.
func NewDatasetIngestedHandler(store metadata.Store, pipe PipelineRunner) Handler {
	logger := slog.Default().With("component", "dataset-ingested-handler")
	return func(ctx context.Context, values map[string]string) error {
		datasetID := values[ingestion.FieldDatasetID]
		jobID := values[ingestion.FieldIngestionJobID]
		retryCount := ingestion.RetryCount(values)
		logger.Info("processing start",
			"dataset_id", datasetID,
			"dataset_version", values[ingestion.FieldDatasetVersion],
			"ingestion_job_id", jobID,
			"retry_count", retryCount,
		)

		if err := store.UpdateJobStatus(ctx, jobID, metadata.StatusRunning, retryCount, ""); err != nil {
			return err
		}
		if err := store.UpdateDatasetStatus(ctx, datasetID, metadata.StatusRunning); err != nil {
			return err
		}

		result, err := pipe.Run(ctx, values)
		if err != nil {
			if uerr := store.UpdateJobStatus(ctx, jobID, metadata.StatusFailed, retryCount, err.Error()); uerr != nil {
				logger.Error("failed to record job failure", "ingestion_job_id", jobID, "error", uerr)
			}
			if uerr := store.UpdateDatasetStatus(ctx, datasetID, metadata.StatusFailed); uerr != nil {
				logger.Error("failed to record dataset failure", "dataset_id", datasetID, "error", uerr)
			}
			return err
		}

		if err := store.UpdateJobStatus(ctx, jobID, metadata.StatusSucceeded, retryCount, ""); err != nil {
			return err
		}
		if err := store.UpdateDatasetStatus(ctx, datasetID, metadata.StatusSucceeded); err != nil {
			return err
		}
		logger.Info("processing done",
			"dataset_id", datasetID,
			"ingestion_job_id", jobID,
			"result", result.Status,
			"rows", result.ProcessedCount,
		)
		return nil
	}
}
