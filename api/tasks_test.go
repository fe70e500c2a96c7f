package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpdf/questions"
	"insightpdf/tasks"
)

func TestTaskStatus(t *testing.T) {
	ts := newTestServer(t)
	a := ts.analysis(t, 4)

	rec := ts.do(t, http.MethodGet, "/api/v1/tasks/"+a.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TaskStatus](t, rec)
	assert.Equal(t, a.ID, got.TaskID)
	assert.Equal(t, tasks.KindAnalysis, got.Kind)
	assert.Equal(t, tasks.StatusPending, got.Status)
	require.NotNil(t, got.TotalImages)
	assert.Equal(t, 4, *got.TotalImages)
	assert.Nil(t, got.TotalPages)

	rec = ts.do(t, http.MethodGet, "/api/v1/tasks/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))
}

func TestTaskResult(t *testing.T) {
	ts := newTestServer(t)
	a := ts.analysis(t, 2)

	rec := ts.do(t, http.MethodGet, "/api/v1/tasks/"+a.ID+"/result", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	e := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeNotReady, e.Code)
	assert.Equal(t, "pending", e.Status)

	qs := []questions.Question{
		{ID: "1", Content: "3+4=?", Answer: "7", Difficulty: questions.DifficultyEasy, Source: "unit", Confidence: 0.9},
		{ID: "2", Content: "鸡兔同笼", Difficulty: questions.DifficultyHard, KnowledgePoints: []string{"方程"}, Source: "unit", Confidence: 0.8},
	}
	path := ts.finishAnalysis(t, a.ID, qs)

	rec = ts.do(t, http.MethodGet, "/api/v1/tasks/"+a.ID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[AnalysisResult](t, rec)
	assert.Equal(t, path, res.ResultPath)
	assert.Equal(t, 2, res.TotalQuestions)
	require.Len(t, res.Questions, 2)
	assert.Equal(t, "鸡兔同笼", res.Questions[1].Content)
	assert.Equal(t, []string{"方程"}, res.Questions[1].KnowledgePoints)

	rec = ts.do(t, http.MethodGet, "/api/v1/tasks/missing/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadTaskResult(t *testing.T) {
	ts := newTestServer(t)
	up := ts.completedUpload(t, 3)

	rec := ts.do(t, http.MethodGet, "/api/v1/tasks/"+up.ID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[UploadResult](t, rec)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, up.Upload.ImagePaths, res.ImagePaths)
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.analysis(t, 1)
		time.Sleep(2 * time.Millisecond)
	}
	ts.completedUpload(t, 1)

	rec := ts.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[TaskList](t, rec)
	assert.Equal(t, 4, list.Count)
	assert.Equal(t, tasks.KindUpload, list.Tasks[0].Kind, "newest first")

	rec = ts.do(t, http.MethodGet, "/api/v1/tasks?kind=analysis&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[TaskList](t, rec)
	assert.Equal(t, 2, list.Count)
	for _, task := range list.Tasks {
		assert.Equal(t, tasks.KindAnalysis, task.Kind)
	}

	for _, q := range []string{"limit=0", "limit=101", "limit=ten", "kind=report"} {
		rec = ts.do(t, http.MethodGet, "/api/v1/tasks?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, CodeInvalidParam, errorCode(t, rec), q)
	}
}

func TestDeleteTask(t *testing.T) {
	ts := newTestServer(t)
	a := ts.analysis(t, 1)
	busy := ts.analysis(t, 1)
	require.NoError(t, ts.queue.Enqueue(jobFor(busy)))

	rec := ts.do(t, http.MethodDelete, "/api/v1/tasks/"+busy.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeTaskBusy, errorCode(t, rec))

	rec = ts.do(t, http.MethodDelete, "/api/v1/tasks/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := ts.store.Get(a.ID)
	assert.ErrorIs(t, err, tasks.ErrNotFound)

	rec = ts.do(t, http.MethodDelete, "/api/v1/tasks/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAnalysisChecksKind(t *testing.T) {
	ts := newTestServer(t)
	up := ts.completedUpload(t, 1)

	rec := ts.do(t, http.MethodDelete, "/api/v1/analysis/tasks/"+up.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeWrongKind, errorCode(t, rec))

	_, err := ts.store.Get(up.ID)
	assert.NoError(t, err)
}

func TestCleanupTasks(t *testing.T) {
	ts := newTestServer(t)
	ts.analysis(t, 1)

	rec := ts.do(t, http.MethodPost, "/api/v1/tasks/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]int](t, rec)
	assert.Equal(t, 0, got["removed"], "fresh tasks are kept")
	assert.Equal(t, 24, got["max_age_hours"])

	for _, q := range []string{"0", "169", "x"} {
		rec = ts.do(t, http.MethodPost, "/api/v1/tasks/cleanup?max_age_hours="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCancelTask(t *testing.T) {
	ts := newTestServer(t)
	a := ts.analysis(t, 1)
	_, err := ts.store.Update(context.Background(), a.ID, tasks.Update{Status: tasks.StatusProcessing, Progress: tasks.Int(30)})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/v1/tasks/"+a.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TaskStatus](t, rec)
	assert.Equal(t, tasks.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	rec = ts.do(t, http.MethodPost, "/api/v1/tasks/"+a.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAlreadyFinished, errorCode(t, rec))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))

	rec = ts.do(t, http.MethodPut, "/api/v1/upload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
