package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"insightpdf/pdfprocessor/pdftest"
	"insightpdf/tasks"
)

// recordingRunner counts tracked operations by name.
type recordingRunner struct {
	mu    sync.Mutex
	names []string
	deny  bool
}

func (r *recordingRunner) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	r.mu.Lock()
	r.names = append(r.names, name)
	deny := r.deny
	r.mu.Unlock()
	if deny {
		return errors.New("shutting down")
	}
	return fn(ctx)
}

func (r *recordingRunner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func waitForStatus(t *testing.T, store *tasks.Store, id string, want tasks.Status) tasks.Task {
	t.Helper()
	var got tasks.Task
	require.Eventually(t, func() bool {
		var err error
		got, err = store.Get(id)
		return err == nil && got.Status == want
	}, 10*time.Second, 10*time.Millisecond, "task %s never reached %s", id, want)
	return got
}

func TestQueueRunsUploadThenFollowUpAnalysis(t *testing.T) {
	f := newUploadFixture(t)
	f.extractor.fallback = oneQuestion("q")
	runner := &recordingRunner{}
	q := NewQueue(f.orch, runner, QueueConfig{Workers: 2, Size: 4}, zaptest.NewLogger(t))
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	id := f.upload(t, pdftest.WriteFile(t, "auto.pdf", 3), tasks.UploadPayload{AutoAnalyze: true, Provider: "fake"})
	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindUpload, TaskID: id}))

	upload := waitForStatus(t, f.store, id, tasks.StatusCompleted)
	require.NotEmpty(t, upload.Upload.AnalysisTaskID)

	analysis := waitForStatus(t, f.store, upload.Upload.AnalysisTaskID, tasks.StatusCompleted)
	assert.Equal(t, 3, analysis.Analysis.TotalQuestions)

	assert.Eventually(t, func() bool { return !q.Busy(analysis.ID) }, time.Second, 10*time.Millisecond)
	assert.Contains(t, runner.Names(), "upload:"+id)
	assert.Contains(t, runner.Names(), "analysis:"+analysis.ID)
}

func TestQueueEnqueueErrors(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(f.orch, nil, QueueConfig{Workers: 1, Size: 1}, zaptest.NewLogger(t))

	first := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})
	second := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})

	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: first}))
	assert.True(t, q.Busy(first))
	assert.ErrorIs(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: first}), ErrTaskBusy)
	assert.ErrorIs(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: second}), ErrQueueFull)
	assert.Error(t, q.Enqueue(Job{Kind: "report", TaskID: second}))

	queued, running := q.Stats()
	assert.Equal(t, 1, queued)
	assert.Equal(t, 0, running)

	require.NoError(t, q.Stop(context.Background()))
	assert.ErrorIs(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: second}), ErrQueueClosed)

	// Never started, so the queued job was dropped rather than run.
	task, err := f.store.Get(first)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusPending, task.Status)
}

func TestQueueResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	interrupted := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(2)})
	_, err := f.store.Update(ctx, interrupted, tasks.Update{Status: tasks.StatusProcessing, Progress: tasks.Int(40)})
	require.NoError(t, err)

	idle := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})
	pendingUpload := tasks.NewUploadTask(tasks.UploadPayload{Filename: "later.pdf"})
	_, err = f.store.Create(ctx, pendingUpload)
	require.NoError(t, err)

	q := NewQueue(f.orch, nil, QueueConfig{Workers: 1, Size: 8}, zaptest.NewLogger(t))
	assert.Equal(t, 2, q.Resume())
	assert.True(t, q.Busy(interrupted))
	assert.True(t, q.Busy(pendingUpload.ID))
	assert.False(t, q.Busy(idle))

	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	waitForStatus(t, f.store, interrupted, tasks.StatusCompleted)
	// The upload has no file on disk, so it fails instead of hanging.
	waitForStatus(t, f.store, pendingUpload.ID, tasks.StatusFailed)
}

func TestQueueStopCancelsRunningJobs(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	var once sync.Once
	f.extractor.fallback = "[]"
	f.extractor.onCall = func(string) { once.Do(func() { close(started) }) }
	f.orch.cfg.BatchPause = time.Hour

	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(2), BatchSize: 1})
	q := NewQueue(f.orch, nil, QueueConfig{Workers: 1}, zaptest.NewLogger(t))
	q.Start()
	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: id}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusProcessing, task.Status, "interrupted task stays resumable")
	assert.False(t, q.Busy(id))
}

func TestQueueSkipsJobsRejectedByRunner(t *testing.T) {
	f := newFixture(t)
	runner := &recordingRunner{deny: true}
	q := NewQueue(f.orch, runner, QueueConfig{Workers: 1}, zaptest.NewLogger(t))
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})
	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: id}))

	require.Eventually(t, func() bool { return !q.Busy(id) }, time.Second, 5*time.Millisecond)
	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusPending, task.Status)
	assert.Empty(t, f.extractor.Calls())
}

func TestQueueSkipsTaskCancelledWhileQueued(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	ctx := context.Background()

	dropped := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(2)})
	rerun := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})
	// Cancelled before it was queued, so queuing it again runs it.
	_, err := f.store.Update(ctx, rerun, tasks.Update{Status: tasks.StatusCancelled})
	require.NoError(t, err)

	q := NewQueue(f.orch, nil, QueueConfig{Workers: 1, Size: 4}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: dropped}))
	require.NoError(t, q.Enqueue(Job{Kind: tasks.KindAnalysis, TaskID: rerun}))

	_, err = f.store.Update(ctx, dropped, tasks.Update{Status: tasks.StatusCancelled})
	require.NoError(t, err)

	q.Start()
	waitForStatus(t, f.store, rerun, tasks.StatusCompleted)
	assert.Eventually(t, func() bool { return !q.Busy(dropped) }, time.Second, 10*time.Millisecond)

	got, err := f.store.Get(dropped)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCancelled, got.Status)
	assert.Zero(t, got.Analysis.Runs)
	assert.Equal(t, []string{"page_001.png"}, f.extractor.Calls())
}

func TestQueueResumeKeepsBatchSizeOverride(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.extractor.onCall = func(image string) {
		if image == "page_002.png" {
			cancel()
		}
	}
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(5), BatchSize: 10})

	res := f.orch.Execute(ctx, id, 2)
	require.ErrorIs(t, res.Error, context.Canceled)
	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusProcessing, task.Status)
	assert.Equal(t, 2, task.Analysis.BatchSize)

	f.extractor.onCall = nil
	q := NewQueue(f.orch, nil, QueueConfig{Workers: 1, Size: 4}, zaptest.NewLogger(t))
	require.Equal(t, 1, q.Resume())
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	waitForStatus(t, f.store, id, tasks.StatusCompleted)
	require.Len(t, f.sinks, 2)
	assert.Equal(t, []int{2, 2, 1}, f.sinks[1].appends)
}
