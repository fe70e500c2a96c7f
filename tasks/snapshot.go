package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileSnapshot persists snapshots as one JSON document. Writes go to a temp
// file that is fsynced and renamed over the target, so a crash leaves either
// the old or the new document.
type FileSnapshot struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileSnapshot returns a persister writing to path.
func NewFileSnapshot(path string, logger *zap.Logger) *FileSnapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSnapshot{path: path, logger: logger}
}

// Path returns the document location.
func (f *FileSnapshot) Path() string {
	return f.path
}

// Save writes snap atomically.
func (f *FileSnapshot) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the document. A missing file yields an empty snapshot; a file
// that is not valid JSON is moved aside to <path>.corrupt-<timestamp> and
// also yields an empty snapshot.
func (f *FileSnapshot) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%s", f.path, time.Now().UTC().Format("20060102T150405"))
		if renameErr := os.Rename(f.path, aside); renameErr != nil {
			return Snapshot{}, fmt.Errorf("snapshot is corrupt (%v) and could not be moved aside: %w", err, renameErr)
		}
		f.logger.Error("task snapshot is corrupt, starting empty",
			zap.String("path", f.path), zap.String("moved_to", aside), zap.Error(err))
		return emptySnapshot(), nil
	}

	if snap.UploadTasks == nil {
		snap.UploadTasks = map[string]json.RawMessage{}
	}
	if snap.AnalysisTasks == nil {
		snap.AnalysisTasks = map[string]json.RawMessage{}
	}
	return snap, nil
}

func emptySnapshot() Snapshot {
	return Snapshot{
		UploadTasks:   map[string]json.RawMessage{},
		AnalysisTasks: map[string]json.RawMessage{},
	}
}

// MemorySnapshot keeps the last saved snapshot in memory. One-shot CLI runs
// use it when nothing needs to outlive the process.
type MemorySnapshot struct {
	mu   sync.Mutex
	snap Snapshot
}

// Save stores snap.
func (m *MemorySnapshot) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

// Load returns the last saved snapshot.
func (m *MemorySnapshot) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.UploadTasks == nil {
		return emptySnapshot(), nil
	}
	return m.snap, nil
}
