package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insightpdf/tasks"
)

const savedAtKey = "saved_at"

// SnapshotStore persists task snapshots in SQLite. Each Save replaces the
// whole tasks table and the saved_at marker in one transaction.
type SnapshotStore struct {
	db *Database
}

// NewSnapshotStore returns a tasks.Persister backed by database.
func NewSnapshotStore(database *Database) *SnapshotStore {
	return &SnapshotStore{db: database}
}

var _ tasks.Persister = (*SnapshotStore)(nil)

// recordColumns are the indexed columns pulled out of a raw record.
type recordColumns struct {
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Save writes snap atomically.
func (s *SnapshotStore) Save(ctx context.Context, snap tasks.Snapshot) (err error) {
	conn, err := s.db.conn()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks (id, kind, status, created_at, record) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	insert := func(kind tasks.Kind, records map[string]json.RawMessage) error {
		for id, raw := range records {
			var cols recordColumns
			if err := json.Unmarshal(raw, &cols); err != nil {
				return fmt.Errorf("task %s: %w", id, err)
			}
			if _, err := stmt.ExecContext(ctx, id, string(kind), cols.Status,
				cols.CreatedAt.UTC().Format(time.RFC3339Nano), string(raw)); err != nil {
				return fmt.Errorf("insert task %s: %w", id, err)
			}
		}
		return nil
	}
	if err = insert(tasks.KindUpload, snap.UploadTasks); err != nil {
		return err
	}
	if err = insert(tasks.KindAnalysis, snap.AnalysisTasks); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		savedAtKey, snap.SavedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write saved_at: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads every stored record. Records are returned raw; the task store
// decides which ones are usable.
func (s *SnapshotStore) Load(ctx context.Context) (tasks.Snapshot, error) {
	snap := tasks.Snapshot{
		UploadTasks:   map[string]json.RawMessage{},
		AnalysisTasks: map[string]json.RawMessage{},
	}

	conn, err := s.db.conn()
	if err != nil {
		return snap, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT id, kind, record FROM tasks`)
	if err != nil {
		return snap, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind, record string
		if err := rows.Scan(&id, &kind, &record); err != nil {
			return snap, fmt.Errorf("scan task: %w", err)
		}
		switch tasks.Kind(kind) {
		case tasks.KindUpload:
			snap.UploadTasks[id] = json.RawMessage(record)
		case tasks.KindAnalysis:
			snap.AnalysisTasks[id] = json.RawMessage(record)
		}
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate tasks: %w", err)
	}

	var savedAt string
	err = conn.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = ?`, savedAtKey).Scan(&savedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("read saved_at: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
			snap.SavedAt = t
		}
	}

	return snap, nil
}
