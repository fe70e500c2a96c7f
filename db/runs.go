package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RunRecord is one execution of an analysis task.
type RunRecord struct {
	ID              int64         `json:"id"`
	TaskID          string        `json:"task_id"`
	TaskName        string        `json:"task_name"`
	Provider        string        `json:"provider"`
	Success         bool          `json:"success"`
	TotalImages     int           `json:"total_images"`
	ProcessedImages int           `json:"processed_images"`
	FailedImages    int           `json:"failed_images"`
	TotalQuestions  int           `json:"total_questions"`
	ResultPath      string        `json:"result_path"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ms"`
}

// RunStats aggregates the run history.
type RunStats struct {
	Runs           int `json:"runs"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Images         int `json:"images"`
	FailedImages   int `json:"failed_images"`
	TotalQuestions int `json:"total_questions"`
}

// RunRepository stores run history. Inserts can go through an AsyncWriter so
// finishing a task never waits on the database.
type RunRepository struct {
	db     *Database
	writer *AsyncWriter[RunRecord]
	logger *zap.Logger
}

// NewRunRepository returns a repository with a started async writer.
func NewRunRepository(database *Database, logger *zap.Logger) *RunRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RunRepository{db: database, logger: logger}
	r.writer = NewAsyncWriter(DefaultChannelCapacity, func(ctx context.Context, rec RunRecord) error {
		_, err := r.InsertRun(ctx, rec)
		return err
	}, logger)
	r.writer.Start()
	return r
}

// InsertRun writes rec synchronously and returns its id.
func (r *RunRepository) InsertRun(ctx context.Context, rec RunRecord) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			task_id, task_name, provider, success, total_images, processed_images,
			failed_images, total_questions, result_path, error_message, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.TaskName, rec.Provider, rec.Success, rec.TotalImages, rec.ProcessedImages,
		rec.FailedImages, rec.TotalQuestions, rec.ResultPath, rec.ErrorMessage,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("insert run for %s: %w", rec.TaskID, err)
	}
	return res.LastInsertId()
}

// RecordAsync queues rec for insertion. It reports false if the buffer is full.
func (r *RunRepository) RecordAsync(rec RunRecord) bool {
	return r.writer.Write(rec)
}

// ListRuns returns up to limit runs, newest first, optionally for one task.
func (r *RunRepository) ListRuns(ctx context.Context, limit int, taskID string) ([]RunRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, task_id, task_name, provider, success, total_images, processed_images,
		       failed_images, total_questions, result_path, error_message, started_at, duration_ms
		FROM analysis_runs`
	args := []interface{}{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.TaskName, &rec.Provider, &rec.Success,
			&rec.TotalImages, &rec.ProcessedImages, &rec.FailedImages, &rec.TotalQuestions,
			&rec.ResultPath, &rec.ErrorMessage, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Stats aggregates all stored runs.
func (r *RunRepository) Stats(ctx context.Context) (RunStats, error) {
	var s RunStats
	conn, err := r.db.conn()
	if err != nil {
		return s, err
	}

	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(processed_images), 0),
		       COALESCE(SUM(failed_images), 0),
		       COALESCE(SUM(total_questions), 0)
		FROM analysis_runs`).Scan(&s.Runs, &s.Succeeded, &s.Images, &s.FailedImages, &s.TotalQuestions)
	if err != nil {
		return s, fmt.Errorf("aggregate runs: %w", err)
	}
	s.Failed = s.Runs - s.Succeeded
	return s, nil
}

// PruneRuns deletes runs started before cutoff and returns how many went.
func (r *RunRepository) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx, `DELETE FROM analysis_runs WHERE started_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close drains pending async inserts.
func (r *RunRepository) Close(ctx context.Context) error {
	if n := r.writer.Pending(); n > 0 {
		r.logger.Info("flushing run history", zap.Int("pending", n))
	}
	return r.writer.Stop(ctx)
}
