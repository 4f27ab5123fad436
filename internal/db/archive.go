package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/viralcut/clipper/internal/models"
)

// Archive keeps a durable record of terminal job outcomes in Postgres. It is
// optional infrastructure: a nil *Archive is valid and every method on it is
// a no-op, so the pipeline runs unchanged without a DATABASE_URL.
type Archive struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS job_archive (
	job_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	clip_count  INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

// Open connects to Postgres and ensures the archive table exists. An empty
// databaseURL disables archiving and returns a nil Archive.
func Open(databaseURL string) (*Archive, error) {
	if databaseURL == "" {
		log.Printf("[Archive] DATABASE_URL not set, job archiving disabled")
		return nil, nil
	}
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure archive table: %w", err)
	}
	return &Archive{db: conn}, nil
}

func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

// Record writes a terminal job's outcome. Failures are logged, not
// propagated; archiving never affects the pipeline result.
func (a *Archive) Record(ctx context.Context, job *models.Job) {
	if a == nil {
		return
	}
	errKind := ""
	if job.Error != nil {
		errKind = job.Error.Kind
	}
	clipCount := 0
	if job.Result != nil {
		clipCount = job.Result.TotalClips
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO job_archive (job_id, mode, status, message, error_kind, clip_count, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			error_kind = EXCLUDED.error_kind,
			clip_count = EXCLUDED.clip_count,
			finished_at = EXCLUDED.finished_at`,
		job.ID, string(job.Mode), string(job.Status), job.ProgressMessage,
		errKind, clipCount, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		log.Printf("[Archive] Failed to record job %s: %v", job.ID, err)
	}
}

// ArchivedJob is one row of the archive listing.
type ArchivedJob struct {
	JobID      string    `json:"job_id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ClipCount  int       `json:"clip_count"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recent lists the latest archived jobs, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]ArchivedJob, error) {
	if a == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT job_id, mode, status, message, error_kind, clip_count, created_at, finished_at
		FROM job_archive
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job archive: %w", err)
	}
	defer rows.Close()

	var out []ArchivedJob
	for rows.Next() {
		var j ArchivedJob
		if err := rows.Scan(&j.JobID, &j.Mode, &j.Status, &j.Message, &j.ErrorKind, &j.ClipCount, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
