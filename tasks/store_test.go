package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingSnapshot counts successful saves and fails them on demand.
type countingSnapshot struct {
	MemorySnapshot
	mu      sync.Mutex
	saves   int
	saveErr error
}

func (c *countingSnapshot) Save(ctx context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves++
	return c.MemorySnapshot.Save(ctx, snap)
}

func (c *countingSnapshot) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func (c *countingSnapshot) SetSaveErr(err error) {
	c.mu.Lock()
	c.saveErr = err
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *countingSnapshot) {
	t.Helper()
	mem := &countingSnapshot{}
	store, err := NewStore(context.Background(), mem, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, mem
}

func TestStoreCreateGet(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	task := NewUploadTask(UploadPayload{Filename: "math.pdf", FileSize: 1024})
	id, err := store.Create(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)
	assert.Equal(t, 1, mem.Saves())

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "math.pdf", got.Upload.Filename)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetKind(id, KindAnalysis)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = store.Create(ctx, task)
	assert.ErrorIs(t, err, ErrInvalidTask, "duplicate ids are rejected")
}

func TestStoreUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, NewAnalysisTask(AnalysisPayload{ImagePaths: []string{"1.png", "2.png"}}))
	require.NoError(t, err)

	got, err := store.Update(ctx, id, Update{Status: StatusProcessing, Progress: Int(0)})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	got, err = store.Update(ctx, id, Update{
		Progress: Int(50),
		Apply:    func(tk *Task) { tk.Analysis.ProcessedImages = 1 },
	})
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, 1, got.Analysis.ProcessedImages)

	got, err = store.Update(ctx, id, Update{Progress: Int(30)})
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress, "progress must not go backwards while processing")

	got, err = store.Update(ctx, id, Update{Status: StatusCompleted, Progress: Int(100)})
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 100, got.Progress)

	// Re-running restarts progress from zero.
	got, err = store.Update(ctx, id, Update{Status: StatusProcessing, Progress: Int(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
	assert.Nil(t, got.CompletedAt)
}

func TestStoreUpdateRejectsInvalidPatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, NewAnalysisTask(AnalysisPayload{ImagePaths: []string{"1.png"}}))
	require.NoError(t, err)

	_, err = store.Update(ctx, id, Update{Apply: func(tk *Task) { tk.Analysis.ProcessedImages = 5 }})
	assert.ErrorIs(t, err, ErrInvalidTask)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Analysis.ProcessedImages)

	_, err = store.Update(ctx, "missing", Update{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpdateKeepsIdentity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, NewUploadTask(UploadPayload{Filename: "a.pdf"}))
	require.NoError(t, err)

	got, err := store.Update(ctx, id, Update{Apply: func(tk *Task) {
		tk.ID = "hijacked"
		tk.Upload.TotalPages = 4
	}})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 4, got.Upload.TotalPages)
}

func TestStoreRollsBackOnPersistFailure(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, NewUploadTask(UploadPayload{Filename: "a.pdf"}))
	require.NoError(t, err)

	mem.SetSaveErr(errors.New("disk full"))

	_, err = store.Update(ctx, id, Update{Status: StatusFailed, ErrorMessage: String("boom")})
	require.Error(t, err)
	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	second := NewUploadTask(UploadPayload{Filename: "b.pdf"})
	_, err = store.Create(ctx, second)
	require.Error(t, err)
	_, err = store.Get(second.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := store.Delete(ctx, id)
	require.Error(t, err)
	assert.False(t, deleted)
	_, err = store.Get(id)
	assert.NoError(t, err, "failed delete must restore the task")
}

func TestStoreListNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		var task Task
		if i%2 == 0 {
			task = NewUploadTask(UploadPayload{Filename: fmt.Sprintf("%d.pdf", i)})
		} else {
			task = NewAnalysisTask(AnalysisPayload{Name: fmt.Sprint(i)})
		}
		task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		id, err := store.Create(ctx, task)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all := store.List(0, "")
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	limited := store.List(2, "")
	require.Len(t, limited, 2)
	assert.Equal(t, ids[3], limited[1].ID)

	uploads := store.List(10, KindUpload)
	require.Len(t, uploads, 3)
	for _, tk := range uploads {
		assert.Equal(t, KindUpload, tk.Kind)
	}
}

func TestStoreCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := NewUploadTask(UploadPayload{Filename: "old.pdf"})
	old.CreatedAt = now.Add(-48 * time.Hour)
	busy := NewAnalysisTask(AnalysisPayload{Name: "busy"})
	busy.CreatedAt = now.Add(-72 * time.Hour)
	busy.Status = StatusProcessing
	fresh := NewUploadTask(UploadPayload{Filename: "fresh.pdf"})
	fresh.CreatedAt = now.Add(-time.Hour)

	for _, tk := range []Task{old, busy, fresh} {
		_, err := store.Create(ctx, tk)
		require.NoError(t, err)
	}

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(busy.ID)
	assert.NoError(t, err, "processing tasks survive cleanup")
	_, err = store.Get(fresh.ID)
	assert.NoError(t, err)

	removed, err = store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStoreReloadSkipsBadRecords(t *testing.T) {
	ctx := context.Background()
	good := NewUploadTask(UploadPayload{Filename: "good.pdf"})
	goodRaw, err := json.Marshal(good)
	require.NoError(t, err)

	invalid := NewAnalysisTask(AnalysisPayload{})
	invalid.Status = "exploded"
	invalidRaw, err := json.Marshal(invalid)
	require.NoError(t, err)

	mem := &MemorySnapshot{}
	require.NoError(t, mem.Save(ctx, Snapshot{
		UploadTasks: map[string]json.RawMessage{
			good.ID:   goodRaw,
			"garbage": json.RawMessage(`{"task_id": 42}`),
		},
		AnalysisTasks: map[string]json.RawMessage{
			invalid.ID: invalidRaw,
			good.ID:    goodRaw, // filed under the wrong kind
		},
	}))

	store, err := NewStore(ctx, mem, zaptest.NewLogger(t))
	require.NoError(t, err)

	all := store.List(0, "")
	require.Len(t, all, 1)
	assert.Equal(t, good.ID, all[0].ID)
}

func TestStoreListener(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Status
	store.SetListener(func(tk Task) {
		mu.Lock()
		seen = append(seen, tk.Status)
		mu.Unlock()
	})

	id, err := store.Create(ctx, NewUploadTask(UploadPayload{}))
	require.NoError(t, err)
	_, err = store.Update(ctx, id, Update{Status: StatusProcessing})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusPending, StatusProcessing}, seen)
}

func TestStoreConcurrentUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	images := make([]string, 50)
	for i := range images {
		images[i] = fmt.Sprintf("%d.png", i)
	}
	id, err := store.Create(ctx, NewAnalysisTask(AnalysisPayload{ImagePaths: images}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < len(images); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, id, Update{Apply: func(tk *Task) { tk.Analysis.ProcessedImages++ }})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, len(images), got.Analysis.ProcessedImages)
}
