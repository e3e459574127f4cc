package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/db"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/queue"
)

// JobQueue is the part of the render queue the API drives.
type JobQueue interface {
	Enqueue(recipe *models.Recipe) (string, error)
	GetJob(id string) (models.JobView, bool)
	Cancel(id string) bool
	Stats() models.QueueStats
}

// JobHistory looks up jobs the queue has already evicted.
type JobHistory interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]models.Job, error)
}

// JobSnapshots serves the last published status of jobs no longer held
// in memory. A nil view means no snapshot exists.
type JobSnapshots interface {
	GetJob(ctx context.Context, id string) (*models.JobView, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Handler struct {
	queue          JobQueue
	history        JobHistory   // nil when no database is configured
	snapshots      JobSnapshots // nil when no Redis is configured
	maxRecipeBytes int64
	logger         zerolog.Logger
}

func NewHandler(q JobQueue, history JobHistory, maxRecipeBytes int64, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:          q,
		history:        history,
		maxRecipeBytes: maxRecipeBytes,
		logger:         logger,
	}
}

// WithSnapshots makes evicted jobs resolvable from published snapshots
// after the queue and history have been checked.
func (h *Handler) WithSnapshots(s JobSnapshots) *Handler {
	h.snapshots = s
	return h
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.maxRecipeBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRecipeBytes)
	}

	recipe, err := models.DecodeRecipe(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Recipe exceeds the maximum request size")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate
	if err := recipe.Validate(); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  verr.Error(),
				"fields": verr.Fields,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to validate recipe")
		return
	}

	jobID, err := h.queue.Enqueue(recipe)
	if err != nil {
		if errors.Is(err, queue.ErrQueueStopped) {
			respondError(w, http.StatusServiceUnavailable, "Render queue is shutting down")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.EnqueueResponse{
		JobID:  jobID,
		Status: models.JobStatusPending,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, found, err := h.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.queue.Cancel(id) {
		respondJSON(w, http.StatusOK, models.CancelResponse{JobID: id, Cancelled: true})
		return
	}

	_, found, err := h.lookup(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	// Known but already terminal
	respondJSON(w, http.StatusConflict, models.CancelResponse{JobID: id, Cancelled: false})
}

// GetJobOutput handles GET /v1/jobs/{id}/output
func (h *Handler) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	view, found, err := h.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	if view.Status != models.JobStatusCompleted || view.OutputPath == nil {
		respondError(w, http.StatusConflict, "Job has no output yet (status: "+string(view.Status)+")")
		return
	}

	if _, err := os.Stat(*view.OutputPath); err != nil {
		respondError(w, http.StatusNotFound, "Output file no longer exists")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, *view.OutputPath)
}

// ListJobs handles GET /v1/jobs?limit=N, newest finished jobs first
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotImplemented, "Job history is not enabled")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := h.history.ListRecentJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing job history failed")
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.Stats())
}

// lookup checks the live queue first, then the history store.
func (h *Handler) lookup(ctx context.Context, id string) (models.JobView, bool, error) {
	if view, ok := h.queue.GetJob(id); ok {
		return view, true, nil
	}

	if h.history != nil {
		job, err := h.history.GetJob(ctx, id)
		switch {
		case err == nil:
			return models.JobView{Job: *job}, true, nil
		case !errors.Is(err, db.ErrJobNotFound):
			h.logger.Error().Err(err).Str("job_id", id).Msg("history lookup failed")
			return models.JobView{}, false, err
		}
	}

	if h.snapshots != nil {
		view, err := h.snapshots.GetJob(ctx, id)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", id).Msg("snapshot lookup failed")
			return models.JobView{}, false, err
		}
		if view != nil {
			return *view, true, nil
		}
	}
	return models.JobView{}, false, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
