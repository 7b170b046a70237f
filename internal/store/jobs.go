package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ingestion job states.
const (
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type IngestionJob struct {
	ID                int64      `json:"id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	TotalRecords      int        `json:"totalRecords"`
	SuccessfulRecords int        `json:"successfulRecords"`
	FailedRecords     int        `json:"failedRecords"`
	ErrorLog          string     `json:"errorLog,omitempty"`
}

// IngestionRecord tracks the outcome of one project within a job.
type IngestionRecord struct {
	ID           int64  `json:"id"`
	JobID        int64  `json:"jobId"`
	ProjectName  string `json:"projectName"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// CreateIngestionJob inserts a new in-progress job row and returns its ID.
func (s *Store) CreateIngestionJob(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs(status, started_at) VALUES(?, ?)`,
		JobInProgress, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("create ingestion job: %w", err)
	}
	return res.LastInsertId()
}

// FinishIngestionJob records the terminal state of a job. status must be
// JobCompleted or JobFailed; both set completed_at.
func (s *Store) FinishIngestionJob(ctx context.Context, id int64, status string, total, successful, failed int, errorLog string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs
		 SET status = ?, completed_at = ?, total_records = ?,
		     successful_records = ?, failed_records = ?, error_log = ?
		 WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano),
		total, successful, failed, nullStr(errorLog), id,
	)
	if err != nil {
		return fmt.Errorf("finish ingestion job: %w", err)
	}
	return nil
}

// AppendIngestionRecord stores the per-project outcome for a job.
func (s *Store) AppendIngestionRecord(ctx context.Context, r IngestionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_records(job_id, project_name, status, error_message)
		 VALUES(?,?,?,?)`,
		r.JobID, r.ProjectName, r.Status, nullStr(r.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("append ingestion record: %w", err)
	}
	return nil
}

// IngestionHistory returns the most recent jobs, newest first.
func (s *Store) IngestionHistory(ctx context.Context, limit int) ([]IngestionJob, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, completed_at, total_records,
		        successful_records, failed_records, error_log
		 FROM ingestion_jobs
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ingestion jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IngestionJob
	for rows.Next() {
		var j IngestionJob
		var startedStr string
		var completedStr, errorLog sql.NullString
		if err := rows.Scan(
			&j.ID, &j.Status, &startedStr, &completedStr,
			&j.TotalRecords, &j.SuccessfulRecords, &j.FailedRecords, &errorLog,
		); err != nil {
			return nil, fmt.Errorf("scan ingestion job: %w", err)
		}
		j.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if completedStr.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedStr.String)
			if err == nil {
				j.CompletedAt = &t
			}
		}
		j.ErrorLog = errorLog.String
		out = append(out, j)
	}
	return out, rows.Err()
}
