package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/LOMI1015/flowsight/internal/ingestion"
	"github.com/LOMI1015/flowsight/internal/ingestion/registrar"
	apperrors "github.com/LOMI1015/flowsight/pkg/errors"
	"github.com/LOMI1015/flowsight/pkg/logger"
)

type Handler struct {
	registrar      *registrar.Registrar
	maxUploadBytes int64
	logger         *slog.Logger
}

func New(reg *registrar.Registrar, maxUploadBytes int64) *Handler {
	return &Handler{
		registrar:      reg,
		maxUploadBytes: maxUploadBytes,
		logger:         slog.Default().With("component", "ingestion-handler"),
	}
}

// CreateDataset handles POST /api/v1/datasets.
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.CreateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.registrar.CreateDataset(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("create dataset failed", "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "create dataset failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// Upload handles POST /api/v1/datasets/{dataset_id}/upload with a multipart
// "file" part. Repeated identical uploads return the original job unchanged.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	datasetID := r.PathValue("dataset_id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	resp, err := h.registrar.Upload(ctx, datasetID, header.Filename, file)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("upload failed",
			"dataset_id", datasetID,
			"filename", header.Filename,
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "upload failed")
		return
	}
	log.Info("upload accepted",
		"dataset_id", resp.DatasetID,
		"ingestion_job_id", resp.IngestionJobID,
		"status", resp.Status,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// JobStatus handles GET /api/v1/datasets/{dataset_id}/ingestions/{ingestion_job_id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.registrar.JobStatus(ctx, r.PathValue("dataset_id"), r.PathValue("ingestion_job_id"))
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), "ingestion job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ingestion"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
