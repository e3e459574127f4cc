package db

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/models"
)

const saveTimeout = 5 * time.Second

// JobStore persists job records.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
}

// HistoryObserver records every job that reaches a terminal state, so it
// outlives the queue's in-memory retention.
type HistoryObserver struct {
	store  JobStore
	logger zerolog.Logger
}

func NewHistoryObserver(store JobStore, logger zerolog.Logger) *HistoryObserver {
	return &HistoryObserver{store: store, logger: logger}
}

func (h *HistoryObserver) Observe(view models.JobView) {
	if !view.Status.IsTerminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	job := view.Job
	if err := h.store.SaveJob(ctx, &job); err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job history")
	}
}
