package registrar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/metadata"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
)

// memStore is an in-memory metadata.Store.
type memStore struct {
	datasets map[string]*metadata.Dataset
	jobs     map[string]*metadata.IngestionJob
	byKey    map[string]*metadata.IngestionJob
	creates  int
}

func newMemStore() *memStore {
	return &memStore{
		datasets: make(map[string]*metadata.Dataset),
		jobs:     make(map[string]*metadata.IngestionJob),
		byKey:    make(map[string]*metadata.IngestionJob),
	}
}

func (s *memStore) CreateDataset(ctx context.Context, d *metadata.Dataset) error {
	cp := *d
	s.datasets[d.DatasetID] = &cp
	return nil
}

func (s *memStore) GetDataset(ctx context.Context, id string) (*metadata.Dataset, error) {
	return s.datasets[id], nil
}

func (s *memStore) UpdateDatasetStatus(ctx context.Context, id, status string) error {
	if d, ok := s.datasets[id]; ok {
		d.Status = status
	}
	return nil
}

func (s *memStore) CreateJob(ctx context.Context, j *metadata.IngestionJob) error {
	cp := *j
	s.jobs[j.IngestionJobID] = &cp
	s.byKey[j.IdempotencyKey] = &cp
	s.creates++
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*metadata.IngestionJob, error) {
	return s.jobs[id], nil
}

func (s *memStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*metadata.IngestionJob, error) {
	return s.byKey[key], nil
}

func (s *memStore) UpdateJobStatus(ctx context.Context, id, status string, retryCount int, lastError string) error {
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		j.RetryCount = retryCount
		j.LastError = metadata.TruncateError(lastError)
	}
	return nil
}

// memObjects is an in-memory objectstore.Store.
type memObjects struct {
	objects map[string][]byte
	puts    int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	o.objects[key] = data
	o.puts++
	return int64(len(data)), nil
}

func (o *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := o.objects[key]
	if !ok {
		return nil, apperrors.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Ping(ctx context.Context) error { return nil }

// memPublisher records publish calls.
type memPublisher struct {
	entries []map[string]string
	err     error
}

func (p *memPublisher) Publish(ctx context.Context, stream string, values map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.entries = append(p.entries, values)
	return "1-0", nil
}

func newTestRegistrar(store *memStore, objects *memObjects, pub *memPublisher, required bool) *Registrar {
	r := New(store, objects, pub, Options{StreamKey: "dataset.events", PublishRequired: required}, nil)
	r.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return r
}

func seedDataset(store *memStore) *metadata.Dataset {
	d := &metadata.Dataset{
		DatasetID:      "d-1",
		DatasetName:    "sessions",
		DatasetVersion: "v1",
		Status:         metadata.StatusCreated,
	}
	store.datasets[d.DatasetID] = d
	return d
}

func TestCreateDataset(t *testing.T) {
	store := newMemStore()
	r := newTestRegistrar(store, newMemObjects(), &memPublisher{}, false)

	resp, err := r.CreateDataset(context.Background(), &ingestion.CreateDatasetRequest{DatasetName: "sessions"})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if resp.DatasetVersion != "v1" {
		t.Errorf("version = %q, want default v1", resp.DatasetVersion)
	}
	if resp.Status != metadata.StatusCreated {
		t.Errorf("status = %q, want CREATED", resp.Status)
	}
	if store.datasets[resp.DatasetID] == nil {
		t.Error("dataset not persisted")
	}
}

func TestCreateDatasetRequiresName(t *testing.T) {
	r := newTestRegistrar(newMemStore(), newMemObjects(), &memPublisher{}, false)

	_, err := r.CreateDataset(context.Background(), &ingestion.CreateDatasetRequest{DatasetName: "   "})
	if err == nil {
		t.Fatal("expected error for blank dataset_name")
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", got)
	}
}

// TestUploadRegistersJob verifies the happy path: object stored, job row
// PENDING, dataset moved to PENDING, and one dataset.ingested entry
// published carrying the job's identity.
func TestUploadRegistersJob(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	pub := &memPublisher{}
	r := newTestRegistrar(store, objects, pub, false)
	seedDataset(store)

	resp, err := r.Upload(context.Background(), "d-1", "sessions.csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Status != metadata.StatusPending {
		t.Errorf("job status = %q, want PENDING", resp.Status)
	}
	if resp.FileSize != 8 {
		t.Errorf("file_size = %d, want 8", resp.FileSize)
	}
	if !strings.HasPrefix(resp.ObjectKey, "raw/d-1/v1/") || !strings.HasSuffix(resp.ObjectKey, "_sessions.csv") {
		t.Errorf("object key = %q", resp.ObjectKey)
	}
	if objects.puts != 1 {
		t.Errorf("object puts = %d, want 1", objects.puts)
	}
	if store.datasets["d-1"].Status != metadata.StatusPending {
		t.Errorf("dataset status = %q, want PENDING", store.datasets["d-1"].Status)
	}
	if len(pub.entries) != 1 {
		t.Fatalf("published entries = %d, want 1", len(pub.entries))
	}
	e := pub.entries[0]
	if e[ingestion.FieldEventType] != ingestion.EventTypeDatasetIngested {
		t.Errorf("event_type = %q", e[ingestion.FieldEventType])
	}
	if e[ingestion.FieldIngestionJobID] != resp.IngestionJobID {
		t.Errorf("event job id = %q, want %q", e[ingestion.FieldIngestionJobID], resp.IngestionJobID)
	}
	if e[ingestion.FieldRetryCount] != "0" {
		t.Errorf("event retry_count = %q, want 0", e[ingestion.FieldRetryCount])
	}
}

// TestUploadIdempotent verifies that repeating an upload with the same
// (dataset, version, filename) triple returns the first job's persisted
// state with zero side effects: no new object, job row, or stream entry.
func TestUploadIdempotent(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	pub := &memPublisher{}
	r := newTestRegistrar(store, objects, pub, false)
	seedDataset(store)

	first, err := r.Upload(context.Background(), "d-1", "sessions.csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	second, err := r.Upload(context.Background(), "d-1", "sessions.csv", strings.NewReader("different,content\n"))
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}

	if second.IngestionJobID != first.IngestionJobID {
		t.Errorf("job id changed: %q vs %q", second.IngestionJobID, first.IngestionJobID)
	}
	if second.ObjectKey != first.ObjectKey {
		t.Errorf("object key changed: %q vs %q", second.ObjectKey, first.ObjectKey)
	}
	if objects.puts != 1 {
		t.Errorf("object puts = %d, want 1", objects.puts)
	}
	if store.creates != 1 {
		t.Errorf("job creates = %d, want 1", store.creates)
	}
	if len(pub.entries) != 1 {
		t.Errorf("published entries = %d, want 1", len(pub.entries))
	}
}

func TestUploadDatasetNotFound(t *testing.T) {
	r := newTestRegistrar(newMemStore(), newMemObjects(), &memPublisher{}, false)

	_, err := r.Upload(context.Background(), "missing", "f.csv", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error for unknown dataset")
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got)
	}
}

// TestUploadPublishFailureTolerated verifies the default policy: a failed
// event publish is logged but the upload still succeeds because the job row
// and raw object are durable.
func TestUploadPublishFailureTolerated(t *testing.T) {
	store := newMemStore()
	pub := &memPublisher{err: errors.New("broker down")}
	r := newTestRegistrar(store, newMemObjects(), pub, false)
	seedDataset(store)

	resp, err := r.Upload(context.Background(), "d-1", "f.csv", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload should tolerate publish failure: %v", err)
	}
	if store.jobs[resp.IngestionJobID] == nil {
		t.Error("job row not persisted")
	}
}

// TestUploadPublishFailureRequired verifies that with publishRequired the
// failure surfaces as 503 while the job row stays durable for later
// reconciliation.
func TestUploadPublishFailureRequired(t *testing.T) {
	store := newMemStore()
	pub := &memPublisher{err: errors.New("broker down")}
	r := newTestRegistrar(store, newMemObjects(), pub, true)
	seedDataset(store)

	_, err := r.Upload(context.Background(), "d-1", "f.csv", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error with publishRequired")
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", got)
	}
	if store.creates != 1 {
		t.Errorf("job creates = %d, want 1 (job stays durable)", store.creates)
	}
}

func TestJobStatusScopedToDataset(t *testing.T) {
	store := newMemStore()
	r := newTestRegistrar(store, newMemObjects(), &memPublisher{}, false)
	seedDataset(store)

	resp, err := r.Upload(context.Background(), "d-1", "f.csv", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if _, err := r.JobStatus(context.Background(), "d-1", resp.IngestionJobID); err != nil {
		t.Errorf("JobStatus for owning dataset: %v", err)
	}
	_, err = r.JobStatus(context.Background(), "other-dataset", resp.IngestionJobID)
	if got := apperrors.HTTPStatusCode(err); got != http.StatusNotFound {
		t.Errorf("cross-dataset lookup status = %d, want 404", got)
	}
}
