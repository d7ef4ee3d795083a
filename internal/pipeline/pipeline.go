// Package pipeline runs the transformation for a dataset.ingested event:
// it resolves the raw object, decodes it into rows through a black-box
// RowDecoder, and loads the mapped rows into the target table.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/ingestion/objectstore"
	"github.com/LOMI1015/flowsight/internal/metadata"
	"github.com/LOMI1015/flowsight/pkg/config"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
	"github.com/LOMI1015/flowsight/pkg/metrics"
	"github.com/LOMI1015/flowsight/pkg/postgres"
)

// Result summarizes a pipeline run.
type Result struct {
	Status         string
	ProcessedCount int
}

// Pipeline transforms raw uploaded objects into target-table rows. The
// target write is not idempotent: redelivery of an already-processed event
// re-inserts its rows.
type Pipeline struct {
	db      *postgres.Client
	objects objectstore.Store
	decoder RowDecoder
	cfg     config.PipelineConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Pipeline. m may be nil when metrics are disabled.
func New(db *postgres.Client, objects objectstore.Store, decoder RowDecoder, cfg config.PipelineConfig, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		db:      db,
		objects: objects,
		decoder: decoder,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "pipeline"),
	}
}

// Run processes one dataset.ingested event. A missing object_key or an
// unsupported file format is a permanent failure; a missing raw object is
// retryable (the object store may be lagging behind the event).
func (p *Pipeline) Run(ctx context.Context, event map[string]string) (Result, error) {
	start := time.Now()
	objectKey := event[ingestion.FieldObjectKey]
	if objectKey == "" {
		return Result{}, apperrors.Permanentf("object_key missing in event")
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(objectKey), "."))
	if ext != "csv" {
		return Result{}, apperrors.Permanentf("unsupported file extension: %s", ext)
	}

	obj, err := p.objects.Get(ctx, objectKey)
	if err != nil {
		return Result{}, err
	}
	defer obj.Close()

	columns, rows, err := p.decoder.Decode(obj, p.cfg.ColumnMapping)
	if err != nil {
		return Result{}, fmt.Errorf("decoding %s: %w", objectKey, err)
	}
	if len(rows) == 0 {
		p.logger.Info("no rows decoded, skipping load", "object_key", objectKey)
		return Result{Status: "SKIPPED"}, nil
	}

	if err := p.load(ctx, columns, rows); err != nil {
		return Result{}, err
	}

	if p.metrics != nil {
		p.metrics.PipelineRowsTotal.Add(float64(len(rows)))
		p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}
	p.logger.Info("pipeline completed",
		"dataset_id", event[ingestion.FieldDatasetID],
		"ingestion_job_id", event[ingestion.FieldIngestionJobID],
		"rows", len(rows),
	)
	return Result{Status: metadata.StatusSucceeded, ProcessedCount: len(rows)}, nil
}

// load inserts all rows into the target table in a single transaction.
func (p *Pipeline) load(ctx context.Context, columns []string, rows []map[string]string) error {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = fmt.Sprintf("%q", col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		`INSERT INTO %q.%q (%s) VALUES (%s)`,
		p.cfg.TargetSchema, p.cfg.TargetTable,
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	)

	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing target insert: %w", err)
		}
		defer stmt.Close()
		args := make([]any, len(columns))
		for _, row := range rows {
			for i, col := range columns {
				args[i] = nullableString(row[col])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("inserting row: %w", err)
			}
		}
		return nil
	})
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
