package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Archive records job events and final results in Postgres. It is an
// optional sink: a nil *Archive is valid and drops every write, so
// callers never guard their logging calls.
type Archive struct {
	conn *sql.DB
}

// Open connects to the archive database and applies the schema.
func Open(ctx context.Context, url string) (*Archive, error) {
	conn, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &Archive{conn: conn}
	if err := a.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS job_events (
    id        BIGSERIAL PRIMARY KEY,
    job_id    TEXT NOT NULL,
    event     TEXT NOT NULL,
    stage     TEXT,
    detail    TEXT,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS job_results (
    id        BIGSERIAL PRIMARY KEY,
    job_id    TEXT NOT NULL,
    target    TEXT NOT NULL,
    status    TEXT NOT NULL,
    result    JSONB NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id);
`

// Migrate applies the archive schema.
func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LogJobEvent inserts a job lifecycle event. Nil-safe.
func (a *Archive) LogJobEvent(jobID, event, stage, detail string) error {
	if a == nil || a.conn == nil {
		return nil
	}
	_, err := a.conn.Exec(
		`INSERT INTO job_events (job_id, event, stage, detail) VALUES ($1, $2, $3, $4)`,
		jobID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log job event: %w", err)
	}
	return nil
}

// SaveResult inserts a job's final result record. Nil-safe.
func (a *Archive) SaveResult(jobID, target, status string, result []byte) error {
	if a == nil || a.conn == nil {
		return nil
	}
	_, err := a.conn.Exec(
		`INSERT INTO job_results (job_id, target, status, result) VALUES ($1, $2, $3, $4)`,
		jobID, target, status, result,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// JobEvent represents a row in the job_events table.
type JobEvent struct {
	ID        int64
	JobID     string
	Event     string
	Stage     string
	Detail    string
	Timestamp time.Time
}

// RecentEvents returns the most recent events for a job, newest first.
func (a *Archive) RecentEvents(jobID string, limit int) ([]JobEvent, error) {
	if a == nil || a.conn == nil {
		return nil, nil
	}
	rows, err := a.conn.Query(
		`SELECT id, job_id, event, COALESCE(stage, ''), COALESCE(detail, ''), timestamp
		 FROM job_events WHERE job_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &e.Stage, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
