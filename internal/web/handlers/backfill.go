package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-stacker/internal/backfill"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

// BackfillHandler handles backfill progress queries and async runs
type BackfillHandler struct {
	assets database.AssetStore
	leases database.LeaseStore
	hasher backfill.FileHasher

	jobManager *JobManager
}

// NewBackfillHandler creates a new backfill handler
func NewBackfillHandler(assets database.AssetStore, leases database.LeaseStore, hasher backfill.FileHasher, jm *JobManager) *BackfillHandler {
	return &BackfillHandler{
		assets:     assets,
		leases:     leases,
		hasher:     hasher,
		jobManager: jm,
	}
}

// Progress reports the backlog state for a project.
func (h *BackfillHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.assets.Progress(r.Context(), projectID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read progress: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// StartRequest configures a backfill run.
type StartRequest struct {
	ProjectID int64 `json:"project_id"`
	BatchSize int   `json:"batch_size,omitempty"`
}

// Start launches an async backfill job
func (h *BackfillHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if req.ProjectID <= 0 {
		req.ProjectID = 1
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, JobKindBackfill, req.ProjectID)

	go h.runBackfillJob(job, req.BatchSize)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"project_id": req.ProjectID,
		"status":     string(JobStatusPending),
	})
}

// Status returns the status of a backfill job
func (h *BackfillHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams backfill job events via SSE
func (h *BackfillHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, func(id string) SSEJob {
		job := h.jobManager.GetJob(id)
		if job == nil {
			return nil
		}
		return job
	})
}

// Cancel requests cancellation of a backfill job. The engine stops at the
// next batch boundary, keeping every committed batch.
func (h *BackfillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runBackfillJob runs the engine in the background
func (h *BackfillHandler) runBackfillJob(job *Job, batchSize int) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.setRunning()

	engine := backfill.New(h.assets, h.leases, h.hasher)
	result, err := engine.Run(ctx, backfill.Options{
		ProjectID: job.ProjectID,
		BatchSize: batchSize,
		Owner:     job.ID,
		OnProgress: func(info backfill.ProgressInfo) {
			job.setProgress(info.Current, info.Total, info.Message)
		},
	})

	if err != nil {
		if ctx.Err() != nil {
			job.markCancelled()
			return
		}
		if errors.Is(err, backfill.ErrLeaseHeld) {
			job.fail("another backfill run holds the project lease")
			return
		}
		log.Printf("backfill failed: %v", err)
		job.fail(fmt.Sprintf("backfill failed: %v", err))
		return
	}

	job.complete(result)
}
