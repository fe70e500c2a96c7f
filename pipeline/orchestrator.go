package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"insightpdf/logging"
	"insightpdf/metrics"
	"insightpdf/questions"
	"insightpdf/resultsink"
	"insightpdf/tasks"
	"insightpdf/vision"
)

// Progress reported while images are still being analyzed never exceeds
// this value; 100 is reserved for completion.
const maxRunningProgress = 90

// DefaultBatchPause is the wait between two batches.
const DefaultBatchPause = time.Second

// Config holds pipeline settings.
type Config struct {
	// OutputDir receives result files.
	OutputDir string

	// BatchPause is waited between batches. Zero disables the pause.
	BatchPause time.Duration

	// MaxFileSize bounds uploaded PDFs when they are re-validated on disk.
	MaxFileSize int64
}

// Deps are the collaborators of an Orchestrator. Extractor and Converter
// are required for analysis and upload tasks respectively; the rest have
// defaults.
type Deps struct {
	Extractor  VisionExtractor
	Converter  PageConverter
	Normalizer ResponseNormalizer
	OpenSink   SinkOpener
	Metrics    metrics.Collector
	Events     EventPublisher
}

// Result summarizes one Execute call.
type Result struct {
	Success         bool
	TotalImages     int
	TotalQuestions  int
	ProcessedImages int
	FailedImages    int
	ResultPath      string
	Error           error
}

// Orchestrator executes tasks held in a tasks.Store.
type Orchestrator struct {
	store  *tasks.Store
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewOrchestrator wires an orchestrator around store.
func NewOrchestrator(store *tasks.Store, deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pipeline")
	if deps.Normalizer == nil {
		deps.Normalizer = questions.NewNormalizer(logger)
	}
	if deps.OpenSink == nil {
		deps.OpenSink = resultsink.Open
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	return &Orchestrator{store: store, deps: deps, cfg: cfg, logger: logger}
}

// Store returns the task store the orchestrator works on.
func (o *Orchestrator) Store() *tasks.Store {
	return o.store
}

// update writes u and publishes the resulting task state.
func (o *Orchestrator) update(ctx context.Context, id string, u tasks.Update) (tasks.Task, error) {
	t, err := o.store.Update(ctx, id, u)
	if err != nil {
		return tasks.Task{}, err
	}
	o.deps.Events.Publish(t)
	return t, nil
}

// fail marks the task failed. Persistence errors are logged only: the
// original failure is what the caller reports.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error) {
	_, err := o.update(context.WithoutCancel(ctx), id, tasks.Update{
		Status:       tasks.StatusFailed,
		ErrorMessage: tasks.String(cause.Error()),
	})
	if err != nil {
		o.logger.Error("could not mark task failed",
			zap.String("task_id", id),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

// runningProgress maps done/total images to 0..90.
func runningProgress(done, total int) int {
	if total <= 0 {
		return 0
	}
	return min(done*100/total, maxRunningProgress)
}

// Batches splits n items into contiguous [start, end) ranges of size at
// most size. size <= 0 means tasks.DefaultBatchSize.
func Batches(n, size int) [][2]int {
	if size <= 0 {
		size = tasks.DefaultBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// Execute runs the analysis task analysisTaskID over its images and returns
// the outcome. batchSize <= 0 falls back to the task's own batch size; a
// positive one replaces it on the task.
// Every call writes a new result file. Questions flushed before a failure
// stay in that file.
//
// When ctx is cancelled mid-run the task is left in processing so it can be
// resumed; the returned Result carries ctx.Err().
func (o *Orchestrator) Execute(ctx context.Context, analysisTaskID string, batchSize int) Result {
	started := time.Now()
	task, err := o.store.GetKind(analysisTaskID, tasks.KindAnalysis)
	if err != nil {
		o.logger.Error("cannot execute analysis", zap.String("task_id", analysisTaskID), zap.Error(err))
		return Result{Error: err}
	}
	a := task.Analysis
	if batchSize <= 0 {
		batchSize = a.BatchSize
	}
	images := a.ImagePaths
	total := len(images)
	res := Result{TotalImages: total}

	log := o.logger.With(logging.TaskFields(task.ID, string(task.Kind))...)
	finish := func(res Result) Result {
		o.recordRun(task, res, started)
		return res
	}
	abort := func(err error) Result {
		res.Error = err
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Warn("analysis interrupted, task left for resume", zap.Error(err))
			return finish(res)
		}
		log.Error("analysis failed", zap.Error(err))
		o.fail(ctx, task.ID, err)
		return finish(res)
	}

	sink, err := o.deps.OpenSink(o.cfg.OutputDir, task.ID, a.Name, a.OutputFormat)
	if err != nil {
		return abort(fmt.Errorf("open result file: %w", err))
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			log.Warn("closing result file failed", zap.Error(cerr))
		}
	}()
	res.ResultPath = sink.Path()

	_, err = o.update(ctx, task.ID, tasks.Update{
		Status:       tasks.StatusProcessing,
		Progress:     tasks.Int(0),
		ErrorMessage: tasks.String(""),
		Apply: func(t *tasks.Task) {
			t.Analysis.ProcessedImages = 0
			t.Analysis.FailedImages = 0
			t.Analysis.TotalQuestions = 0
			t.Analysis.ResultPath = sink.Path()
			t.Analysis.Runs++
			if batchSize > 0 {
				// Resume re-runs with the size this run used.
				t.Analysis.BatchSize = batchSize
			}
		},
	})
	if err != nil {
		return abort(fmt.Errorf("mark processing: %w", err))
	}

	log.Info("analysis started",
		zap.Int("images", total),
		zap.Int("batch_size", batchSize),
		zap.String("provider", a.Provider),
		zap.String("result_path", sink.Path()),
	)

	source := o.documentName(task)
	for i, batch := range Batches(total, batchSize) {
		if i > 0 {
			if err := pause(ctx, o.cfg.BatchPause); err != nil {
				return abort(err)
			}
		}

		var found []questions.Question
		for idx := batch[0]; idx < batch[1]; idx++ {
			if err := ctx.Err(); err != nil {
				return abort(err)
			}

			qs, err := o.analyzeImage(ctx, a, images[idx], source)
			if err != nil && ctx.Err() != nil {
				return abort(ctx.Err())
			}
			res.ProcessedImages++
			if err != nil {
				res.FailedImages++
				log.Warn("image skipped",
					zap.Int("index", idx),
					zap.String("image", filepath.Base(images[idx])),
					zap.Error(err),
				)
			} else {
				found = append(found, qs...)
			}

			processed, failed := res.ProcessedImages, res.FailedImages
			progress := runningProgress(processed, total)
			_, err = o.update(ctx, task.ID, tasks.Update{
				Progress: tasks.Int(progress),
				Apply: func(t *tasks.Task) {
					t.Analysis.ProcessedImages = processed
					t.Analysis.FailedImages = failed
				},
			})
			if err != nil {
				return abort(fmt.Errorf("update progress: %w", err))
			}
			log.Debug("image processed", logging.ProgressFields(processed, total, progress)...)
		}

		if err := sink.Append(found); err != nil {
			return abort(fmt.Errorf("write results: %w", err))
		}
		res.TotalQuestions += len(found)

		written := res.TotalQuestions
		_, err = o.update(ctx, task.ID, tasks.Update{
			Apply: func(t *tasks.Task) { t.Analysis.TotalQuestions = written },
		})
		if err != nil {
			return abort(fmt.Errorf("update question count: %w", err))
		}
		log.Debug("batch flushed",
			zap.Int("batch", i+1),
			zap.Int("questions", len(found)),
			zap.Int("total_questions", written),
		)
	}

	_, err = o.update(ctx, task.ID, tasks.Update{
		Status:   tasks.StatusCompleted,
		Progress: tasks.Int(100),
		Apply: func(t *tasks.Task) {
			t.Analysis.ProcessedImages = res.ProcessedImages
			t.Analysis.FailedImages = res.FailedImages
			t.Analysis.TotalQuestions = res.TotalQuestions
			t.Analysis.ResultPath = res.ResultPath
		},
	})
	if err != nil {
		return abort(fmt.Errorf("mark completed: %w", err))
	}

	res.Success = true
	log.Info("analysis completed",
		zap.Int("questions", res.TotalQuestions),
		zap.Int("failed_images", res.FailedImages),
		zap.Duration("duration", time.Since(started)),
	)
	return finish(res)
}

// analyzeImage calls the vision model for one image and normalizes the answer.
func (o *Orchestrator) analyzeImage(ctx context.Context, a *tasks.AnalysisPayload, imagePath, source string) ([]questions.Question, error) {
	if o.deps.Extractor == nil {
		return nil, errors.New("no vision extractor configured")
	}
	resp, err := o.deps.Extractor.Extract(ctx, vision.Request{
		ImagePath:    imagePath,
		Provider:     a.Provider,
		Filename:     source,
		CustomPrompt: a.CustomPrompt,
		Options: vision.PromptOptions{
			ExtractAnswers:         a.ExtractAnswers,
			ExtractKnowledgePoints: a.ExtractKnowledgePoints,
		},
	})
	provider := resp.Provider
	if provider == "" {
		provider = a.Provider
	}
	o.deps.Metrics.RecordVisionCall(provider, err == nil, resp.Attempts, resp.Duration)
	if err != nil {
		return nil, err
	}
	return o.deps.Normalizer.Normalize(resp.Text, source), nil
}

// documentName is the source document name used in prompts and as the
// question source fallback: the uploaded file when known, else the task name.
func (o *Orchestrator) documentName(task tasks.Task) string {
	if id := task.Analysis.SourceUploadTaskID; id != "" {
		if up, err := o.store.GetKind(id, tasks.KindUpload); err == nil && up.Upload.Filename != "" {
			return up.Upload.Filename
		}
	}
	return task.Analysis.Name
}

func (o *Orchestrator) recordRun(task tasks.Task, res Result, started time.Time) {
	status := metrics.RunStatusSuccess
	msg := ""
	if res.Error != nil {
		status = metrics.RunStatusError
		msg = res.Error.Error()
	}
	end := time.Now()
	o.deps.Metrics.RecordRun(metrics.RunRecord{
		TaskID:       task.ID,
		Kind:         metrics.RunKindAnalysis,
		Name:         task.Analysis.Name,
		Provider:     task.Analysis.Provider,
		Status:       status,
		StartTime:    started,
		EndTime:      end,
		Duration:     end.Sub(started),
		Images:       res.ProcessedImages,
		FailedImages: res.FailedImages,
		Questions:    res.TotalQuestions,
		ResultPath:   res.ResultPath,
		ErrorMsg:     msg,
	})
}

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
