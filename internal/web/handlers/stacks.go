package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/stacker"
)

// StacksHandler handles stack queries and async stack generation
type StacksHandler struct {
	config     *config.Config
	assets     database.AssetStore
	stacks     database.StackStore
	embeddings database.EmbeddingReader
	jobManager *JobManager
}

// NewStacksHandler creates a new stacks handler
func NewStacksHandler(cfg *config.Config, assets database.AssetStore, stacks database.StackStore, embeddings database.EmbeddingReader, jm *JobManager) *StacksHandler {
	return &StacksHandler{
		config:     cfg,
		assets:     assets,
		stacks:     stacks,
		embeddings: embeddings,
		jobManager: jm,
	}
}

// List returns paged stack summaries, optionally filtered by type.
func (h *StacksHandler) List(w http.ResponseWriter, r *http.Request) {
	stackType := database.StackType(r.URL.Query().Get("type"))
	if stackType != "" && !database.ValidStackType(stackType) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown stack type: %s", sanitizeForLog(string(stackType))))
		return
	}

	limit := queryInt(r, "limit", constants.DefaultHandlerPageSize)
	offset := queryInt(r, "offset", 0)

	stacks, err := h.stacks.ListStacks(r.Context(), projectID(r), stackType, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list stacks: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"stacks": stacks,
		"count":  len(stacks),
		"limit":  limit,
		"offset": offset,
	})
}

// Members returns the members of one stack in rank order.
func (h *StacksHandler) Members(w http.ResponseWriter, r *http.Request) {
	stackID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid stack ID")
		return
	}

	members, err := h.stacks.ListMembers(r.Context(), projectID(r), stackID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list members: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"stack_id": stackID,
		"members":  members,
		"count":    len(members),
	})
}

// GenerateRequest configures a stack generation job. Omitted parameters
// fall back to the configured rule defaults.
type GenerateRequest struct {
	ProjectID            int64   `json:"project_id"`
	StackType            string  `json:"stack_type"`
	RuleVersion          string  `json:"rule_version,omitempty"`
	SimilarityThreshold  float64 `json:"similarity_threshold,omitempty"`
	HammingThreshold     int     `json:"hamming_threshold,omitempty"`
	CaptureWindowSeconds int     `json:"capture_window_seconds,omitempty"`
}

// Generate starts an async stack generation job
func (h *StacksHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	stackType := database.StackType(req.StackType)
	if !database.ValidStackType(stackType) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown stack type: %s", sanitizeForLog(req.StackType)))
		return
	}
	if req.ProjectID <= 0 {
		req.ProjectID = 1
	}

	rules := h.config.Rules.Rules
	if req.RuleVersion != "" {
		rules.RuleVersion = req.RuleVersion
	}
	if req.SimilarityThreshold > 0 {
		rules.SimilarityThreshold = req.SimilarityThreshold
	}
	if req.HammingThreshold > 0 {
		rules.HammingThreshold = req.HammingThreshold
	}
	if req.CaptureWindowSeconds > 0 {
		rules.CaptureWindowSeconds = req.CaptureWindowSeconds
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, JobKindGenerate, req.ProjectID)

	go h.runGenerateJob(job, stackType, rules)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     jobID,
		"stack_type": string(stackType),
		"status":     string(JobStatusPending),
	})
}

// Status returns the status of a generation job
func (h *StacksHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams generation job events via SSE
func (h *StacksHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, func(id string) SSEJob {
		job := h.jobManager.GetJob(id)
		if job == nil {
			return nil
		}
		return job
	})
}

// Cancel cancels a generation job
func (h *StacksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runGenerateJob runs stack generation in the background
func (h *StacksHandler) runGenerateJob(job *Job, stackType database.StackType, rules config.StackRules) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.setRunning()

	gen := stacker.NewGenerator(h.assets, h.stacks, h.embeddings, rules)
	stats, err := gen.Generate(ctx, job.ProjectID, stackType)
	if err != nil {
		if ctx.Err() != nil {
			job.markCancelled()
			return
		}
		log.Printf("stack generation failed: %v", err)
		job.fail(fmt.Sprintf("generation failed: %v", err))
		return
	}

	job.complete(stats)
}
