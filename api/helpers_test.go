package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"insightpdf/pipeline"
	"insightpdf/questions"
	"insightpdf/resultsink"
	"insightpdf/tasks"
	"insightpdf/vision"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	busy map[string]bool
	err  error
}

func (q *fakeQueue) Enqueue(job pipeline.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.busy[job.TaskID] {
		return fmt.Errorf("%w: %s", pipeline.ErrTaskBusy, job.TaskID)
	}
	if q.busy == nil {
		q.busy = make(map[string]bool)
	}
	q.busy[job.TaskID] = true
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Busy(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy[id]
}

func (q *fakeQueue) Stats() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), 0
}

func (q *fakeQueue) Jobs() []pipeline.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pipeline.Job(nil), q.jobs...)
}

// fakeProviders knows "openai" and "qwen"; "local" is declared but has no
// credentials.
type fakeProviders struct{}

func (fakeProviders) Check(name string) error {
	switch name {
	case "openai", "qwen":
		return nil
	case "local":
		return fmt.Errorf("%w: %s", vision.ErrProviderNotConfigured, name)
	}
	return fmt.Errorf("%w: %s", vision.ErrUnknownProvider, name)
}

func (fakeProviders) Default() string      { return "openai" }
func (fakeProviders) Configured() []string { return []string{"openai", "qwen"} }

type testServer struct {
	srv   *Server
	store *tasks.Store
	queue *fakeQueue
	cfg   Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, Deps{})
}

func newTestServerWith(t *testing.T, deps Deps) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := tasks.NewStore(context.Background(), &tasks.MemorySnapshot{}, logger)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := Config{
		Version:     "test",
		DataDir:     filepath.Join(root, "data"),
		UploadDir:   filepath.Join(root, "uploads"),
		OutputDir:   filepath.Join(root, "outputs"),
		MaxFileSize: 1 << 20,
	}
	for _, dir := range []string{cfg.DataDir, cfg.UploadDir, cfg.OutputDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	q := &fakeQueue{}
	deps.Store = store
	deps.Queue = q
	deps.Providers = fakeProviders{}
	srv, err := NewServer(cfg, deps, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Hub().Close)

	return &testServer{srv: srv, store: store, queue: q, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type upload struct {
	filename string
	data     []byte
	fields   map[string]string
}

func (ts *testServer) upload(t *testing.T, u upload) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if u.filename != "" {
		fw, err := mw.CreateFormFile("file", u.filename)
		require.NoError(t, err)
		_, err = fw.Write(u.data)
		require.NoError(t, err)
	}
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Code
}

// completedUpload stores a finished upload whose page images exist on disk.
func (ts *testServer) completedUpload(t *testing.T, pages int) tasks.Task {
	t.Helper()
	dir := filepath.Join(ts.cfg.UploadDir, "temp", "up")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var paths []string
	for i := 1; i <= pages; i++ {
		p := filepath.Join(dir, fmt.Sprintf("page_%03d.png", i))
		require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{'x'}, i*10), 0o644))
		paths = append(paths, p)
	}

	task := tasks.NewUploadTask(tasks.UploadPayload{
		Filename:     "期中试卷.pdf",
		Provider:     "qwen",
		CustomPrompt: "only word problems",
		ImagePaths:   paths,
		TotalPages:   pages,
		OutputDir:    dir,
	})
	task.Status = tasks.StatusCompleted
	task.Progress = 100
	_, err := ts.store.Create(context.Background(), task)
	require.NoError(t, err)
	return task
}

func (ts *testServer) analysis(t *testing.T, images int) tasks.Task {
	t.Helper()
	var paths []string
	for i := 0; i < images; i++ {
		paths = append(paths, fmt.Sprintf("/tmp/pages/page_%03d.png", i+1))
	}
	task := tasks.NewAnalysisTask(tasks.AnalysisPayload{Name: "unit", ImagePaths: paths, Provider: "openai"})
	_, err := ts.store.Create(context.Background(), task)
	require.NoError(t, err)
	return task
}

// finishAnalysis writes a result file with qs and marks the task completed.
func (ts *testServer) finishAnalysis(t *testing.T, id string, qs []questions.Question) string {
	t.Helper()
	sink, err := resultsink.Open(ts.cfg.OutputDir, id, "unit", tasks.FormatCSV)
	require.NoError(t, err)
	require.NoError(t, sink.Append(qs))
	require.NoError(t, sink.Close())

	_, err = ts.store.Update(context.Background(), id, tasks.Update{
		Status:   tasks.StatusCompleted,
		Progress: tasks.Int(100),
		Apply: func(tk *tasks.Task) {
			tk.Analysis.ResultPath = sink.Path()
			tk.Analysis.TotalQuestions = len(qs)
			tk.Analysis.ProcessedImages = len(tk.Analysis.ImagePaths)
		},
	})
	require.NoError(t, err)
	return sink.Path()
}
