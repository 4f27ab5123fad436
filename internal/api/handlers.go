package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/viralcut/clipper/internal/db"
	"github.com/viralcut/clipper/internal/jobstore"
	"github.com/viralcut/clipper/internal/models"
)

// Enqueuer pushes accepted jobs to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.JobRequest) error
}

// Handler holds the dependencies shared by all HTTP endpoints.
type Handler struct {
	store   *jobstore.Store
	queue   Enqueuer
	archive *db.Archive
	version string
}

func NewHandler(store *jobstore.Store, q Enqueuer, archive *db.Archive, version string) *Handler {
	return &Handler{store: store, queue: q, archive: archive, version: version}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Process handles POST /v1/process: AI highlight discovery.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := validateCommon(req.FileID, req.WebhookURL); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.accept(w, r, req.FileID, req.WebhookURL, models.JobModeProcess, func(jobID string) *models.JobRequest {
		return &models.JobRequest{JobID: jobID, Mode: models.JobModeProcess, Process: &req}
	})
}

// ManualCut handles POST /v1/manual-cut: exact timestamps, independent clips.
func (h *Handler) ManualCut(w http.ResponseWriter, r *http.Request) {
	var req models.ManualCutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := validateCommon(req.FileID, req.WebhookURL); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(req.Clips) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "at least one clip is required")
		return
	}
	for i, c := range req.Clips {
		if c.End.Seconds() <= c.Start.Seconds() {
			respondError(w, http.StatusUnprocessableEntity,
				"clip "+strconv.Itoa(i+1)+": end must be after start")
			return
		}
	}

	h.accept(w, r, req.FileID, req.WebhookURL, models.JobModeManualCut, func(jobID string) *models.JobRequest {
		return &models.JobRequest{JobID: jobID, Mode: models.JobModeManualCut, ManualCut: &req}
	})
}

// ManualEdit handles POST /v1/manual-edit: segments stitched into one clip.
func (h *Handler) ManualEdit(w http.ResponseWriter, r *http.Request) {
	var req models.ManualEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := validateCommon(req.FileID, req.WebhookURL); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(req.Segments) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "at least one segment is required")
		return
	}
	for i, s := range req.Segments {
		if s.End.Seconds() <= s.Start.Seconds() {
			respondError(w, http.StatusUnprocessableEntity,
				"segment "+strconv.Itoa(i+1)+": end must be after start")
			return
		}
	}

	h.accept(w, r, req.FileID, req.WebhookURL, models.JobModeManualEdit, func(jobID string) *models.JobRequest {
		return &models.JobRequest{JobID: jobID, Mode: models.JobModeManualEdit, ManualEdit: &req}
	})
}

// accept creates the job, then enqueues it. An enqueue failure marks the job
// failed and returns 503, so a job id never lingers in queued with no worker
// coming for it.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request, fileID, webhookURL string, mode models.JobMode, build func(jobID string) *models.JobRequest) {
	jobID := uuid.New().String()
	h.store.Create(jobID, fileID, webhookURL, mode)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.queue.Enqueue(ctx, build(jobID)); err != nil {
		log.Printf("[API] Failed to enqueue job %s: %v", jobID, err)
		h.store.Fail(jobID, &models.JobError{Kind: "internal", Message: "could not enqueue job"})
		respondError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	log.Printf("[API] Accepted %s job %s for file %s", mode, jobID, fileID)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"status":  "accepted",
		"message": "job queued for processing",
	})
}

// Status handles GET /v1/status/{job_id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := h.store.Get(jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, models.StatusResponse(job, time.Now()))
}

// CancelJob handles DELETE /v1/status/{job_id}.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := h.store.RequestCancel(jobID)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobstore.ErrInvalidState):
		respondError(w, http.StatusConflict, "job already finished")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		log.Printf("[API] Cancellation requested for job %s", jobID)
		respondJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"status": "cancellation_requested",
		})
	}
}

// ListJobs handles GET /v1/jobs: recent terminal jobs from the archive.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": []db.ArchivedJob{}})
		return
	}
	jobs, err := h.archive.Recent(r.Context(), 50)
	if err != nil {
		log.Printf("[API] Failed to list archived jobs: %v", err)
		respondError(w, http.StatusInternalServerError, "could not read job archive")
		return
	}
	if jobs == nil {
		jobs = []db.ArchivedJob{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func validateCommon(fileID, webhookURL string) error {
	if fileID == "" {
		return errors.New("file_id is required")
	}
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("webhook_url must be a valid http(s) URL")
		}
	}
	return nil
}

