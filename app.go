package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"insightpdf/core"
	"insightpdf/db"
	"insightpdf/logging"
	"insightpdf/metrics"
	"insightpdf/pdfprocessor"
	"insightpdf/pipeline"
	"insightpdf/tasks"
	"insightpdf/vision"
)

// app holds the long-lived components shared by serve, extract and cleanup.
type app struct {
	cfg    *core.Config
	logger *logging.Logger

	database *db.Database       // nil with the json store
	runs     *db.RunRepository // nil with the json store
	store    *tasks.Store
	metrics  *metrics.MetricsStore
	registry *vision.Registry
	orch     *pipeline.Orchestrator
}

// appOptions tweak newApp for one-shot commands.
type appOptions struct {
	// persister replaces the configured task store backend.
	persister tasks.Persister
	// tempRoot replaces the upload temp directory for rendered pages.
	tempRoot string
	// outputDir replaces cfg.OutputDir.
	outputDir string
	// events receives every task state written by the pipeline.
	events pipeline.EventPublisher
}

// newApp creates the working directories, opens the task store and wires the
// pipeline. Callers must call close.
func newApp(ctx context.Context, cfg *core.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	outputDir := cfg.OutputDir
	if opts.outputDir != "" {
		outputDir = opts.outputDir
	}
	for _, dir := range []string{cfg.DataDir, cfg.UploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, core.ErrDirectoryNotUsable(dir, err)
		}
	}

	persister := opts.persister
	if persister == nil {
		p, err := a.openPersister()
		if err != nil {
			return nil, err
		}
		persister = p
	}

	store, err := tasks.NewStore(ctx, persister, logger.Zap().Named("tasks"))
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.store = store

	a.metrics = metrics.NewMetricsStore(metrics.StoreConfig{
		RunHistoryCapacity: metrics.DefaultStoreConfig().RunHistoryCapacity,
		Version:            core.Version,
	}, time.Now())
	if a.runs != nil {
		a.metrics.SetPersister(func(run metrics.RunRecord) {
			if rec, ok := toRunRecord(run); ok {
				a.runs.RecordAsync(rec)
			}
		})
	}

	a.registry = vision.NewRegistry(cfg)
	retry := vision.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		MinWait:     cfg.RetryMinWait,
		MaxWait:     cfg.RetryMaxWait,
		Multiplier:  vision.DefaultRetryConfig().Multiplier,
	}
	extractor := vision.NewExtractor(a.registry, retry, cfg.MaxImageSide, logger.Zap())

	tempRoot := opts.tempRoot
	if tempRoot == "" {
		tempRoot = cfg.TempImageDir("")
	}
	converter := pdfprocessor.NewConverter(tempRoot, cfg.RenderDPI, logger.Zap())

	a.orch = pipeline.NewOrchestrator(store, pipeline.Deps{
		Extractor: extractor,
		Converter: converter,
		Metrics:   a.metrics,
		Events:    opts.events,
	}, pipeline.Config{
		OutputDir:   outputDir,
		BatchPause:  cfg.BatchPause,
		MaxFileSize: cfg.MaxFileSize,
	}, logger.Zap())

	return a, nil
}

// openPersister returns the backend selected by TASK_STORE.
func (a *app) openPersister() (tasks.Persister, error) {
	switch a.cfg.TaskStore {
	case core.StoreJSON:
		a.logger.Info("using json task snapshot", zap.String("path", a.cfg.SnapshotPath))
		return tasks.NewFileSnapshot(a.cfg.SnapshotPath, a.logger.Zap().Named("snapshot")), nil
	case core.StoreSQLite:
		database, err := db.Open(a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open task database: %w", err)
		}
		a.database = database
		a.runs = db.NewRunRepository(database, a.logger.Zap().Named("runs"))
		version, dirty, err := db.MigrationVersion(database.DB())
		if err != nil {
			a.logger.Warn("could not read schema version", zap.Error(err))
		}
		a.logger.Info("using sqlite task store",
			zap.String("path", a.cfg.SQLitePath),
			zap.Uint("schema_version", version),
			zap.Bool("schema_dirty", dirty),
		)
		return db.NewSnapshotStore(database), nil
	}
	return nil, core.ErrInvalidStore(a.cfg.TaskStore)
}

// healthPingTimeout bounds the database check behind /health.
const healthPingTimeout = 2 * time.Second

// health reports the service state shown by /health and /api/v1/metrics.
func (a *app) health(shuttingDown func() bool) string {
	if shuttingDown != nil && shuttingDown() {
		return metrics.SystemHealthStopped
	}
	if len(a.registry.Configured()) == 0 {
		return metrics.SystemHealthDegraded
	}
	if a.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), healthPingTimeout)
		defer cancel()
		if err := a.database.Ping(ctx); err != nil {
			a.logger.Warn("task database unreachable", zap.Error(err))
			return metrics.SystemHealthDegraded
		}
	}
	return metrics.SystemHealthRunning
}

// close flushes run history and closes the database. Safe on a partly
// built app.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.runs != nil {
		if err := a.runs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush run history: %w", err))
		}
		a.runs = nil
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.database = nil
	}
	return errors.Join(errs...)
}

// toRunRecord converts an analysis run for the history table. Upload runs
// have no row there. Images counts every attempted image, failed ones
// included.
func toRunRecord(run metrics.RunRecord) (db.RunRecord, bool) {
	if run.Kind != metrics.RunKindAnalysis {
		return db.RunRecord{}, false
	}
	return db.RunRecord{
		TaskID:          run.TaskID,
		TaskName:        run.Name,
		Provider:        run.Provider,
		Success:         run.Status == metrics.RunStatusSuccess,
		TotalImages:     run.Images,
		ProcessedImages: run.Images,
		FailedImages:    run.FailedImages,
		TotalQuestions:  run.Questions,
		ResultPath:      run.ResultPath,
		ErrorMessage:    run.ErrorMsg,
		StartedAt:       run.StartTime,
		Duration:        run.Duration,
	}, true
}
