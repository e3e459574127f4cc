package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/beatframe/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// SaveJob upserts the job's current record.
func (db *DB) SaveJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO render_jobs (
			id, status, progress, total_frames, error_message, output_path,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			error_message = EXCLUDED.error_message,
			output_path = EXCLUDED.output_path,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := db.ExecContext(
		ctx, query,
		job.ID, job.Status, job.Progress, job.TotalFrames, job.Error, job.OutputPath,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT
			id, status, progress, total_frames, error_message, output_path,
			created_at, started_at, completed_at
		FROM render_jobs
		WHERE id = $1
	`

	job := &models.Job{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.Status, &job.Progress, &job.TotalFrames, &job.Error,
		&job.OutputPath, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListRecentJobs returns terminal jobs, newest first.
func (db *DB) ListRecentJobs(ctx context.Context, limit int) ([]models.Job, error) {
	query := `
		SELECT
			id, status, progress, total_frames, error_message, output_path,
			created_at, started_at, completed_at
		FROM render_jobs
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $1
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(
			&job.ID, &job.Status, &job.Progress, &job.TotalFrames, &job.Error,
			&job.OutputPath, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
