package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"insightpdf/metrics"
	"insightpdf/resultsink"
	"insightpdf/tasks"
)

func TestBatches(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want [][2]int
	}{
		{"five by two", 5, 2, [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{"exact", 4, 2, [][2]int{{0, 2}, {2, 4}}},
		{"default size", 12, 0, [][2]int{{0, 10}, {10, 12}}},
		{"empty", 0, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Batches(tt.n, tt.size))
		})
	}
}

func TestRunningProgress(t *testing.T) {
	assert.Equal(t, 0, runningProgress(0, 0))
	assert.Equal(t, 33, runningProgress(1, 3))
	assert.Equal(t, 90, runningProgress(19, 20))
	assert.Equal(t, 90, runningProgress(20, 20))
}

func TestExecuteBatchesAndProgress(t *testing.T) {
	f := newFixture(t)
	images := pages(5)
	for i, name := range []string{"page_001.png", "page_002.png", "page_003.png", "page_004.png", "page_005.png"} {
		f.extractor.replies[name] = oneQuestion("题目" + string(rune('A'+i)))
	}
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: images, BatchSize: 2})

	res := f.orch.Execute(context.Background(), id, 0)
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.TotalImages)
	assert.Equal(t, 5, res.ProcessedImages)
	assert.Equal(t, 0, res.FailedImages)
	assert.Equal(t, 5, res.TotalQuestions)

	require.Len(t, f.sinks, 1)
	assert.Equal(t, []int{2, 2, 1}, f.sinks[0].appends)

	progress := f.events.progress(id)
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress went backwards: %v", progress)
	}
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.Contains(t, progress, 90)
	assert.NotContains(t, progress[:len(progress)-1], 100)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, 5, task.Analysis.TotalQuestions)
	assert.Equal(t, 5, task.Analysis.ProcessedImages)
	assert.Equal(t, res.ResultPath, task.Analysis.ResultPath)

	qs, err := resultsink.ReadQuestions(res.ResultPath)
	require.NoError(t, err)
	assert.Len(t, qs, task.Analysis.TotalQuestions)
	assert.Equal(t, "题目A", qs[0].Content)
	assert.Equal(t, "unit", qs[0].Source)
	assert.Equal(t, "easy", qs[0].Difficulty)
}

func TestExecuteImageOrderFollowsSelection(t *testing.T) {
	f := newFixture(t)
	images := pages(4)
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: []string{images[2], images[0]}, BatchSize: 1})

	res := f.orch.Execute(context.Background(), id, 0)
	require.NoError(t, res.Error)
	assert.Equal(t, []string{"page_003.png", "page_001.png"}, f.extractor.Calls())
}

func TestExecuteAllEmptyResponsesWritesHeaderOnly(t *testing.T) {
	f := newFixture(t)
	f.extractor.replies["page_001.png"] = `{"questions": []}`
	f.extractor.replies["page_002.png"] = `{"words_result": [{"words": "1+1"}], "words_result_num": 1}`
	f.extractor.replies["page_003.png"] = "no questions on this page"
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(3)})

	res := f.orch.Execute(context.Background(), id, 2)
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.TotalQuestions)
	assert.Equal(t, 3, res.ProcessedImages)
	assert.Equal(t, 0, res.FailedImages)

	data, err := os.ReadFile(res.ResultPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], resultsink.Header[0])
}

func TestExecuteSkipsFailedImage(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	f.extractor.failing["page_002.png"] = true
	collector := metrics.NewMetricsStore(metrics.DefaultStoreConfig(), time.Now())
	f.orch.deps.Metrics = collector
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(3)})

	res := f.orch.Execute(context.Background(), id, 10)
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ProcessedImages)
	assert.Equal(t, 1, res.FailedImages)
	assert.Equal(t, 2, res.TotalQuestions)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.Analysis.FailedImages)

	m := collector.GetTaskMetrics()
	assert.EqualValues(t, 1, m.TotalRuns)
	assert.EqualValues(t, 1, m.TotalSuccess)
	require.Contains(t, m.Vision, "fake")
	assert.EqualValues(t, 3, m.Vision["fake"].Calls)
	assert.EqualValues(t, 1, m.Vision["fake"].Failures)
}

func TestExecuteReExecutionWritesNewFile(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(2)})

	first := f.orch.Execute(context.Background(), id, 0)
	require.NoError(t, first.Error)
	before, err := os.ReadFile(first.ResultPath)
	require.NoError(t, err)

	second := f.orch.Execute(context.Background(), id, 0)
	require.NoError(t, second.Error)
	assert.NotEqual(t, first.ResultPath, second.ResultPath)

	after, err := os.ReadFile(first.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Analysis.Runs)
	assert.Equal(t, second.ResultPath, task.Analysis.ResultPath)
	assert.Equal(t, 2, task.Analysis.TotalQuestions)
}

func TestExecuteSinkOpenFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.OpenSink = func(string, string, string, string) (resultsink.Sink, error) {
		return nil, errors.New("read-only file system")
	}
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1)})

	res := f.orch.Execute(context.Background(), id, 0)
	require.Error(t, res.Error)
	assert.False(t, res.Success)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "read-only file system")
	assert.Empty(t, f.extractor.Calls())
}

func TestExecuteAppendFailureKeepsFlushedRows(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	f.orch.deps.OpenSink = func(dir, taskID, name, format string) (resultsink.Sink, error) {
		s, err := resultsink.Open(dir, taskID, name, format)
		if err != nil {
			return nil, err
		}
		rs := &recordingSink{Sink: s, failAfter: 1}
		f.sinks = append(f.sinks, rs)
		return rs, nil
	}
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(4), BatchSize: 2})

	res := f.orch.Execute(context.Background(), id, 0)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "disk full")

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusFailed, task.Status)
	assert.Equal(t, 2, task.Analysis.TotalQuestions)

	rows, err := resultsink.ReadQuestions(res.ResultPath)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecuteCancelledLeavesTaskForResume(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.extractor.onCall = func(image string) {
		if image == "page_002.png" {
			cancel()
		}
	}
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(4), BatchSize: 1})

	res := f.orch.Execute(ctx, id, 0)
	require.ErrorIs(t, res.Error, context.Canceled)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusProcessing, task.Status)
	assert.Equal(t, 1, task.Analysis.ProcessedImages)
}

func TestExecuteRejectsMissingAndWrongKind(t *testing.T) {
	f := newFixture(t)

	res := f.orch.Execute(context.Background(), "missing", 0)
	assert.ErrorIs(t, res.Error, tasks.ErrNotFound)

	upload := tasks.NewUploadTask(tasks.UploadPayload{Filename: "a.pdf"})
	_, err := f.store.Create(context.Background(), upload)
	require.NoError(t, err)

	res = f.orch.Execute(context.Background(), upload.ID, 0)
	assert.ErrorIs(t, res.Error, tasks.ErrWrongKind)

	got, err := f.store.Get(upload.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusPending, got.Status)
}

func TestExecuteUsesUploadFilenameAsSource(t *testing.T) {
	f := newFixture(t)
	f.extractor.fallback = oneQuestion("q")

	upload := tasks.NewUploadTask(tasks.UploadPayload{Filename: "期中考试.pdf"})
	_, err := f.store.Create(context.Background(), upload)
	require.NoError(t, err)
	id := f.analysis(t, tasks.AnalysisPayload{ImagePaths: pages(1), SourceUploadTaskID: upload.ID})

	res := f.orch.Execute(context.Background(), id, 0)
	require.NoError(t, res.Error)

	qs, err := resultsink.ReadQuestions(res.ResultPath)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "期中考试.pdf", qs[0].Source)
}

func TestExecuteBatchPauseHonoursContext(t *testing.T) {
	store, err := tasks.NewStore(context.Background(), &tasks.MemorySnapshot{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	extractor := &fakeExtractor{fallback: "[]"}
	orch := NewOrchestrator(store, Deps{Extractor: extractor},
		Config{OutputDir: t.TempDir(), BatchPause: time.Hour}, zaptest.NewLogger(t))

	id, err := store.Create(context.Background(), tasks.NewAnalysisTask(tasks.AnalysisPayload{
		Name: "paused", Provider: "fake", ImagePaths: pages(2), BatchSize: 1,
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := orch.Execute(ctx, id, 0)
	require.ErrorIs(t, res.Error, context.DeadlineExceeded)
	assert.Len(t, extractor.Calls(), 1)
}
