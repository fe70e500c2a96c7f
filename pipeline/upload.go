package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"insightpdf/core"
	"insightpdf/logging"
	"insightpdf/metrics"
	"insightpdf/pdfprocessor"
	"insightpdf/tasks"
)

// Upload progress checkpoints.
const (
	progressValidated = 10
	progressCounted   = 20
)

// UploadResult summarizes one ProcessUpload call.
type UploadResult struct {
	Success        bool
	TotalPages     int
	ImagePaths     []string
	AnalysisTaskID string // set when auto_analyze created a follow-up task
	Error          error
}

// ProcessUpload validates the stored PDF, counts and renders its pages and
// completes the upload task. Conversion failures fail the task at once and
// are never retried. With auto_analyze set, an analysis task over the
// (optionally page-filtered) images is created and returned; the caller
// decides how to run it.
func (o *Orchestrator) ProcessUpload(ctx context.Context, uploadTaskID string) UploadResult {
	started := time.Now()
	task, err := o.store.GetKind(uploadTaskID, tasks.KindUpload)
	if err != nil {
		o.logger.Error("cannot process upload", zap.String("task_id", uploadTaskID), zap.Error(err))
		return UploadResult{Error: err}
	}
	up := task.Upload
	log := o.logger.With(logging.TaskFields(task.ID, string(task.Kind))...)

	var res UploadResult
	abort := func(err error) UploadResult {
		res.Error = err
		if res.AnalysisTaskID != "" {
			o.dropFollowUp(log, res.AnalysisTaskID)
			res.AnalysisTaskID = ""
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Warn("upload interrupted, task left for resume", zap.Error(err))
		} else {
			log.Error("upload failed", zap.Error(err))
			o.fail(ctx, task.ID, err)
		}
		o.recordUpload(task, res, started)
		return res
	}

	_, err = o.update(ctx, task.ID, tasks.Update{
		Status:       tasks.StatusProcessing,
		Progress:     tasks.Int(0),
		ErrorMessage: tasks.String(""),
	})
	if err != nil {
		return abort(fmt.Errorf("mark processing: %w", err))
	}

	if err := o.validateStored(up.FilePath, up.Filename, up.Checksum); err != nil {
		return abort(err)
	}
	if _, err := o.update(ctx, task.ID, tasks.Update{Progress: tasks.Int(progressValidated)}); err != nil {
		return abort(fmt.Errorf("update progress: %w", err))
	}

	pages, err := pdfprocessor.PageCount(up.FilePath)
	if err != nil {
		return abort(fmt.Errorf("read page count: %w", err))
	}
	res.TotalPages = pages
	_, err = o.update(ctx, task.ID, tasks.Update{
		Progress: tasks.Int(progressCounted),
		Apply:    func(t *tasks.Task) { t.Upload.TotalPages = pages },
	})
	if err != nil {
		return abort(fmt.Errorf("update progress: %w", err))
	}

	if o.deps.Converter == nil {
		return abort(errors.New("no page converter configured"))
	}
	conv, err := o.deps.Converter.Convert(ctx, up.FilePath, task.ID)
	if err != nil {
		return abort(fmt.Errorf("convert pages: %w", err))
	}
	res.ImagePaths = conv.ImagePaths

	var analysisID string
	if up.AutoAnalyze {
		analysisID, err = o.createFollowUp(ctx, task, conv.ImagePaths)
		if err != nil {
			return abort(fmt.Errorf("create analysis task: %w", err))
		}
		res.AnalysisTaskID = analysisID
	}

	_, err = o.update(ctx, task.ID, tasks.Update{
		Status:   tasks.StatusCompleted,
		Progress: tasks.Int(100),
		Apply: func(t *tasks.Task) {
			t.Upload.TotalPages = conv.TotalPages
			t.Upload.ProcessedPages = len(conv.ImagePaths)
			t.Upload.OutputDir = conv.TempDir
			t.Upload.ImagePaths = conv.ImagePaths
			t.Upload.AnalysisTaskID = analysisID
		},
	})
	if err != nil {
		return abort(fmt.Errorf("mark completed: %w", err))
	}

	res.Success = true
	res.TotalPages = conv.TotalPages
	log.Info("upload converted",
		zap.String("filename", up.Filename),
		zap.Int("pages", conv.TotalPages),
		zap.String("output_dir", conv.TempDir),
		zap.Duration("duration", time.Since(started)),
	)
	o.recordUpload(task, res, started)
	return res
}

// ErrChecksumMismatch means the stored PDF is not the file that was uploaded.
var ErrChecksumMismatch = errors.New("stored file does not match upload checksum")

// validateStored re-checks the saved file with the same rules applied at
// upload time, and against the upload checksum when one was recorded.
func (o *Orchestrator) validateStored(path, filename, checksum string) error {
	if path == "" {
		return pdfprocessor.ErrEmptyPath
	}
	if checksum != "" {
		sum, err := core.ComputeFileHash(path)
		if err != nil {
			return fmt.Errorf("hash upload: %w", err)
		}
		if sum != checksum {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, filename)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	return pdfprocessor.ValidateUpload(data, filename, o.cfg.MaxFileSize)
}

// createFollowUp stores the analysis task requested by auto_analyze.
func (o *Orchestrator) createFollowUp(ctx context.Context, upload tasks.Task, images []string) (string, error) {
	up := upload.Upload
	filter := pdfprocessor.PageFilter{SkipCover: up.SkipCoverPages, SkipBack: up.SkipBackPages}
	selected := filter.Apply(images)

	analysis := tasks.NewAnalysisTask(tasks.AnalysisPayload{
		Name:                   DefaultAnalysisName(up.Filename),
		SourceUploadTaskID:     upload.ID,
		ImagePaths:             selected,
		Provider:               up.Provider,
		CustomPrompt:           up.CustomPrompt,
		ExtractAnswers:         true,
		ExtractKnowledgePoints: true,
	})
	id, err := o.store.Create(ctx, analysis)
	if err != nil {
		return "", err
	}
	o.deps.Events.Publish(analysis)
	o.logger.Info("analysis task created from upload",
		zap.String("upload_task_id", upload.ID),
		zap.String("analysis_task_id", id),
		zap.Int("images", len(selected)),
		zap.Int("skipped", len(images)-len(selected)),
	)
	return id, nil
}

// dropFollowUp removes an analysis task created for an upload that then
// failed, so nothing queues it.
func (o *Orchestrator) dropFollowUp(log *zap.Logger, id string) {
	// Background: the upload ctx may already be done.
	if _, err := o.store.Delete(context.Background(), id); err != nil {
		log.Warn("could not remove follow-up analysis task",
			zap.String("analysis_task_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) recordUpload(task tasks.Task, res UploadResult, started time.Time) {
	status := metrics.RunStatusSuccess
	msg := ""
	if res.Error != nil {
		status = metrics.RunStatusError
		msg = res.Error.Error()
	}
	end := time.Now()
	o.deps.Metrics.RecordRun(metrics.RunRecord{
		TaskID:    task.ID,
		Kind:      metrics.RunKindUpload,
		Name:      task.Upload.Filename,
		Status:    status,
		StartTime: started,
		EndTime:   end,
		Duration:  end.Sub(started),
		Images:    len(res.ImagePaths),
		ErrorMsg:  msg,
	})
}
