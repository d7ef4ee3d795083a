// Package objectstore stores and retrieves raw uploaded objects under
// version-scoped keys (raw/<dataset_id>/<version>/<name>). Two backends are
// provided: a local data-lake directory for development and a MinIO/S3
// bucket for deployments.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/LOMI1015/flowsight/pkg/config"
)

// Store is the raw object persistence contract. Put returns the number of
// bytes written; Get returns ErrObjectNotFound (via pkg/errors) when the
// key is absent.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Ping(ctx context.Context) error
}

// New builds the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Root), nil
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
