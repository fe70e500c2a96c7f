package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the serialized form of the whole task set. Records stay raw so
// a persister never has to understand payloads and a bad record can be
// skipped on load without losing the rest.
type Snapshot struct {
	UploadTasks   map[string]json.RawMessage `json:"upload_tasks"`
	AnalysisTasks map[string]json.RawMessage `json:"analysis_tasks"`
	SavedAt       time.Time                  `json:"saved_at"`
}

// Persister durably saves and loads snapshots.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Update is a patch applied atomically by Store.Update. Zero fields are left
// alone; Apply mutates the payload of a private copy.
type Update struct {
	Status       Status
	Progress     *int
	ErrorMessage *string
	Apply        func(t *Task)
}

// Int returns a pointer to v, for Update.Progress.
func Int(v int) *int { return &v }

// String returns a pointer to v, for Update.ErrorMessage.
func String(v string) *string { return &v }

// Listener receives a copy of every task after a successful mutation.
type Listener func(t Task)

// Store is the durable task registry. A single mutex serializes every
// operation and each mutation is persisted before the call returns; when
// persisting fails the in-memory change is rolled back.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	persister Persister
	logger    *zap.Logger
	listener  Listener
	now       func() time.Time
}

// NewStore loads the persisted snapshot and returns a ready store. Records
// that cannot be decoded or fail validation are logged and skipped.
func NewStore(ctx context.Context, persister Persister, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		tasks:     make(map[string]*Task),
		persister: persister,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}

	snap, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load task snapshot: %w", err)
	}
	s.restore(snap)

	logger.Info("task store loaded",
		zap.Int("upload_tasks", s.countKind(KindUpload)),
		zap.Int("analysis_tasks", s.countKind(KindAnalysis)),
		zap.Time("saved_at", snap.SavedAt))
	return s, nil
}

// SetListener registers the mutation listener. It is called outside the
// store lock.
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Store) restore(snap Snapshot) {
	load := func(kind Kind, records map[string]json.RawMessage) {
		for id, raw := range records {
			var t Task
			if err := json.Unmarshal(raw, &t); err != nil {
				s.logger.Warn("skipping undecodable task record", zap.String("task_id", id), zap.Error(err))
				continue
			}
			if t.ID == "" {
				t.ID = id
			}
			if t.Kind == "" {
				t.Kind = kind
			}
			if t.ID != id || t.Kind != kind {
				s.logger.Warn("skipping misfiled task record",
					zap.String("task_id", id), zap.String("record_id", t.ID), zap.String("kind", string(t.Kind)))
				continue
			}
			if err := t.Validate(); err != nil {
				s.logger.Warn("skipping invalid task record", zap.String("task_id", id), zap.Error(err))
				continue
			}
			s.tasks[id] = &t
		}
	}
	load(KindUpload, snap.UploadTasks)
	load(KindAnalysis, snap.AnalysisTasks)
}

// snapshotLocked serializes the current task set. Caller holds s.mu.
func (s *Store) snapshotLocked() (Snapshot, error) {
	snap := Snapshot{
		UploadTasks:   make(map[string]json.RawMessage),
		AnalysisTasks: make(map[string]json.RawMessage),
		SavedAt:       s.now(),
	}
	for id, t := range s.tasks {
		raw, err := json.Marshal(t)
		if err != nil {
			return Snapshot{}, fmt.Errorf("encode task %s: %w", id, err)
		}
		if t.Kind == KindUpload {
			snap.UploadTasks[id] = raw
		} else {
			snap.AnalysisTasks[id] = raw
		}
	}
	return snap, nil
}

// persistLocked saves the task set, undoing the change described by id/prev
// on failure. prev == nil means the task did not exist before.
func (s *Store) persistLocked(ctx context.Context, id string, prev *Task) error {
	snap, err := s.snapshotLocked()
	if err == nil {
		err = s.persister.Save(ctx, snap)
	}
	if err == nil {
		return nil
	}

	if prev == nil {
		delete(s.tasks, id)
	} else {
		s.tasks[id] = prev
	}
	s.logger.Error("task persist failed, change rolled back", zap.String("task_id", id), zap.Error(err))
	return fmt.Errorf("persist tasks: %w", err)
}

func (s *Store) notify(t Task) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l(t)
	}
}

// Create stores a new task and returns its id.
func (s *Store) Create(ctx context.Context, t Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	stored := t.Clone()

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: duplicate id %s", ErrInvalidTask, t.ID)
	}
	s.tasks[t.ID] = &stored
	if err := s.persistLocked(ctx, t.ID, nil); err != nil {
		s.mu.Unlock()
		return "", err
	}
	out := stored.Clone()
	s.mu.Unlock()

	s.notify(out)
	return t.ID, nil
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// GetKind returns the task if it exists and has the given kind.
func (s *Store) GetKind(id string, kind Kind) (Task, error) {
	t, err := s.Get(id)
	if err != nil {
		return Task{}, err
	}
	if t.Kind != kind {
		return Task{}, fmt.Errorf("%w: %s is %s, not %s", ErrWrongKind, id, t.Kind, kind)
	}
	return t, nil
}

// Update applies u to the task atomically and returns the updated copy.
// While a task stays in processing its progress never goes backwards.
// Leaving a non-terminal status clears completed_at; entering a terminal
// one sets it.
func (s *Store) Update(ctx context.Context, id string, u Update) (Task, error) {
	s.mu.Lock()

	cur, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := cur.Clone()
	if u.Apply != nil {
		u.Apply(&next)
		// Identity is not patchable.
		next.ID, next.Kind, next.CreatedAt = cur.ID, cur.Kind, cur.CreatedAt
	}

	if u.Status != "" {
		next.Status = u.Status
	}
	if u.Progress != nil {
		p := clampProgress(*u.Progress)
		if cur.Status == StatusProcessing && next.Status == StatusProcessing && p < cur.Progress {
			p = cur.Progress
		}
		next.Progress = p
	}
	if u.ErrorMessage != nil {
		next.ErrorMessage = *u.ErrorMessage
	}

	now := s.now()
	next.UpdatedAt = now
	if next.Status.Terminal() {
		if !cur.Status.Terminal() || next.CompletedAt == nil {
			next.CompletedAt = &now
		}
	} else {
		next.CompletedAt = nil
	}

	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	prev := cur
	s.tasks[id] = &next
	if err := s.persistLocked(ctx, id, prev); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	out := next.Clone()
	s.mu.Unlock()

	s.notify(out)
	return out, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// List returns up to limit tasks, newest first. An empty kind lists all
// kinds; limit <= 0 means no limit.
func (s *Store) List(limit int, kind Kind) []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListByStatus returns all tasks in the given status, oldest first.
func (s *Store) ListByStatus(status Status) []Task {
	s.mu.Lock()
	var out []Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a task. It reports false when the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	delete(s.tasks, id)
	if err := s.persistLocked(ctx, id, prev); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup deletes tasks created more than maxAge ago and returns how many
// were removed. Tasks still processing are kept. Only records are removed;
// uploaded files, page images and result files are left in place.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := make(map[string]*Task)
	for id, t := range s.tasks {
		if t.Status == StatusProcessing || !t.CreatedAt.Before(cutoff) {
			continue
		}
		removed[id] = t
		delete(s.tasks, id)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	snap, err := s.snapshotLocked()
	if err == nil {
		err = s.persister.Save(ctx, snap)
	}
	if err != nil {
		for id, t := range removed {
			s.tasks[id] = t
		}
		return 0, fmt.Errorf("persist tasks: %w", err)
	}

	s.logger.Info("cleaned up old tasks", zap.Int("removed", len(removed)), zap.Duration("max_age", maxAge))
	return len(removed), nil
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}

func (s *Store) countKind(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if t.Kind == kind {
			n++
		}
	}
	return n
}
