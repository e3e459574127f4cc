package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB is the Postgres handle for job history.
type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: conn}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS render_jobs (
		id             TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_frames   INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		output_path    TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		started_at     TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS render_jobs_completed_at_idx ON render_jobs (completed_at);
`

// EnsureSchema creates the history table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
