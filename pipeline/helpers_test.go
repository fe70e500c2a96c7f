package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"insightpdf/questions"
	"insightpdf/resultsink"
	"insightpdf/tasks"
	"insightpdf/vision"
)

// fakeExtractor answers per image base name. Unknown images get fallback.
type fakeExtractor struct {
	mu       sync.Mutex
	replies  map[string]string
	failing  map[string]bool
	fallback string
	calls    []string
	onCall   func(image string)
}

func (f *fakeExtractor) Extract(ctx context.Context, req vision.Request) (vision.Response, error) {
	image := filepath.Base(req.ImagePath)
	f.mu.Lock()
	f.calls = append(f.calls, image)
	onCall := f.onCall
	text, ok := f.replies[image]
	if !ok {
		text = f.fallback
	}
	failing := f.failing[image]
	f.mu.Unlock()

	if onCall != nil {
		onCall(image)
	}
	if err := ctx.Err(); err != nil {
		return vision.Response{Provider: "fake"}, err
	}
	if failing {
		return vision.Response{Provider: "fake", Attempts: 3},
			fmt.Errorf("analyze %s: %w", image, vision.ErrRetriesExhausted)
	}
	return vision.Response{Text: text, Provider: "fake", Model: "fake-vl", Attempts: 1}, nil
}

func (f *fakeExtractor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// oneQuestion is a model reply holding a single question.
func oneQuestion(content string) string {
	return fmt.Sprintf("```json\n{\"questions\": [{\"content\": %q, \"difficulty\": \"easy\"}]}\n```", content)
}

// recordingSink wraps a real sink and remembers batch sizes.
type recordingSink struct {
	resultsink.Sink
	appends   []int
	failAfter int // fail appends once this many succeeded; 0 never fails
}

func (r *recordingSink) Append(qs []questions.Question) error {
	if r.failAfter > 0 && len(r.appends) >= r.failAfter {
		return errors.New("disk full")
	}
	if err := r.Sink.Append(qs); err != nil {
		return err
	}
	if len(qs) > 0 {
		r.appends = append(r.appends, len(qs))
	}
	return nil
}

// progressLog collects published task states per task.
type progressLog struct {
	mu     sync.Mutex
	states map[string][]tasks.Task
}

func newProgressLog() *progressLog {
	return &progressLog{states: make(map[string][]tasks.Task)}
}

func (p *progressLog) Publish(t tasks.Task) {
	p.mu.Lock()
	p.states[t.ID] = append(p.states[t.ID], t)
	p.mu.Unlock()
}

func (p *progressLog) progress(id string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.states[id]))
	for _, t := range p.states[id] {
		out = append(out, t.Progress)
	}
	return out
}

type fixture struct {
	store     *tasks.Store
	extractor *fakeExtractor
	events    *progressLog
	sinks     []*recordingSink
	outDir    string
	orch      *Orchestrator
}

// rejectingSnapshot fails any save that reject objects to.
type rejectingSnapshot struct {
	tasks.MemorySnapshot
	reject func(tasks.Snapshot) error
}

func (r *rejectingSnapshot) Save(ctx context.Context, snap tasks.Snapshot) error {
	if err := r.reject(snap); err != nil {
		return err
	}
	return r.MemorySnapshot.Save(ctx, snap)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, &tasks.MemorySnapshot{})
}

func newFixtureWith(t *testing.T, persister tasks.Persister) *fixture {
	t.Helper()
	store, err := tasks.NewStore(context.Background(), persister, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		extractor: &fakeExtractor{replies: map[string]string{}, failing: map[string]bool{}, fallback: "[]"},
		events:    newProgressLog(),
		outDir:    t.TempDir(),
	}
	f.orch = NewOrchestrator(store, Deps{
		Extractor: f.extractor,
		Events:    f.events,
		OpenSink: func(dir, taskID, name, format string) (resultsink.Sink, error) {
			s, err := resultsink.Open(dir, taskID, name, format)
			if err != nil {
				return nil, err
			}
			rs := &recordingSink{Sink: s}
			f.sinks = append(f.sinks, rs)
			return rs, nil
		},
	}, Config{OutputDir: f.outDir}, zaptest.NewLogger(t))
	return f
}

// pages returns n fake page image paths; the fake extractor never opens them.
func pages(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = filepath.Join("/tmp/pages", fmt.Sprintf("page_%03d.png", i+1))
	}
	return out
}

func (f *fixture) analysis(t *testing.T, p tasks.AnalysisPayload) string {
	t.Helper()
	if p.Name == "" {
		p.Name = "unit"
	}
	if p.Provider == "" {
		p.Provider = "fake"
	}
	id, err := f.store.Create(context.Background(), tasks.NewAnalysisTask(p))
	require.NoError(t, err)
	return id
}
