package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insightpdf/core"
	"insightpdf/pdfprocessor"
	"insightpdf/pipeline"
	"insightpdf/resultsink"
	"insightpdf/tasks"
)

// Batch size bounds accepted by the extract command.
const (
	minBatchSize = 1
	maxBatchSize = 100
)

type extractOptions struct {
	provider   string
	prompt     string
	batchSize  int
	format     string
	outDir     string
	skipCover  int
	skipBack   int
	keepImages bool
}

func newExtractCmd(env *environment) *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <file.pdf>",
		Short: "Extract questions from one PDF without starting the server",
		Long: `Convert a PDF into page images, analyze them with a vision model and write
the questions to a result file. Tasks live in memory only; nothing is added
to the service's task store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.extract(cmd.Context(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.provider, "provider", "p", "", "vision provider (default from DEFAULT_PROVIDER)")
	flags.StringVar(&opts.prompt, "prompt", "", "extra instructions appended to the extraction prompt")
	flags.IntVarP(&opts.batchSize, "batch-size", "b", 0, "images per batch (default from BATCH_SIZE)")
	flags.StringVarP(&opts.format, "format", "f", tasks.FormatCSV, "result format: csv, xlsx or jsonl")
	flags.StringVarP(&opts.outDir, "out", "o", "", "directory for the result file (default OUTPUT_DIR)")
	flags.IntVar(&opts.skipCover, "skip-cover", 0, "leading pages to leave out of the analysis")
	flags.IntVar(&opts.skipBack, "skip-back", 0, "trailing pages to leave out of the analysis")
	flags.BoolVar(&opts.keepImages, "keep-images", false, "keep the rendered page images")
	return cmd
}

// validate checks flag values that do not need the configuration.
func (o *extractOptions) validate() error {
	if !resultsink.ValidFormat(o.format) {
		return fmt.Errorf("unsupported format %q (want csv, xlsx or jsonl)", o.format)
	}
	if o.batchSize != 0 && (o.batchSize < minBatchSize || o.batchSize > maxBatchSize) {
		return fmt.Errorf("batch size must be between %d and %d, got %d", minBatchSize, maxBatchSize, o.batchSize)
	}
	if o.skipCover < 0 || o.skipCover > pdfprocessor.MaxCoverPages {
		return fmt.Errorf("skip-cover must be between 0 and %d", pdfprocessor.MaxCoverPages)
	}
	if o.skipBack < 0 || o.skipBack > pdfprocessor.MaxBackPages {
		return fmt.Errorf("skip-back must be between 0 and %d", pdfprocessor.MaxBackPages)
	}
	return nil
}

func (e *environment) extract(ctx context.Context, path string, opts *extractOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := e.setup(true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Zap().Named("extract")

	pdfPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	filename := filepath.Base(pdfPath)
	if err := pdfprocessor.ValidateUpload(data, filename, cfg.MaxFileSize); err != nil {
		return err
	}

	provider := opts.provider
	if provider == "" {
		provider = cfg.DefaultProvider
	}
	batchSize := opts.batchSize
	if batchSize == 0 {
		batchSize = cfg.BatchSize
	}

	tempRoot, err := os.MkdirTemp("", "insightpdf-pages-")
	if err != nil {
		return fmt.Errorf("create page directory: %w", err)
	}
	if opts.keepImages {
		fmt.Fprintf(e.out, "Page images: %s\n", tempRoot)
	} else {
		defer os.RemoveAll(tempRoot)
	}

	progress := newExtractProgress(e.errOut)
	a, err := newApp(ctx, cfg, logger, appOptions{
		persister: &tasks.MemorySnapshot{},
		tempRoot:  tempRoot,
		outputDir: opts.outDir,
		events:    progress,
	})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.registry.Check(provider); err != nil {
		return err
	}

	started := time.Now()
	upload := tasks.NewUploadTask(tasks.UploadPayload{
		Filename:       filename,
		FileSize:       int64(len(data)),
		Checksum:       core.ComputeHash(data),
		FilePath:       pdfPath,
		Provider:       provider,
		CustomPrompt:   opts.prompt,
		SkipCoverPages: opts.skipCover,
		SkipBackPages:  opts.skipBack,
	})
	if _, err := a.store.Create(ctx, upload); err != nil {
		return err
	}

	conv := a.orch.ProcessUpload(ctx, upload.ID)
	if conv.Error != nil {
		progress.finish()
		return fmt.Errorf("convert %s: %w", filename, conv.Error)
	}

	filter := pdfprocessor.PageFilter{SkipCover: opts.skipCover, SkipBack: opts.skipBack}
	images := filter.Apply(conv.ImagePaths)
	if len(images) == 0 {
		progress.finish()
		return fmt.Errorf("no pages left to analyze: %d pages, skipping %d cover and %d back", len(conv.ImagePaths), opts.skipCover, opts.skipBack)
	}

	analysis := tasks.NewAnalysisTask(tasks.AnalysisPayload{
		Name:                   pipeline.DefaultAnalysisName(filename),
		SourceUploadTaskID:     upload.ID,
		ImagePaths:             images,
		Provider:               provider,
		CustomPrompt:           opts.prompt,
		ExtractAnswers:         true,
		ExtractKnowledgePoints: true,
		OutputFormat:           opts.format,
		BatchSize:              batchSize,
	})
	if _, err := a.store.Create(ctx, analysis); err != nil {
		return err
	}

	log.Info("extracting",
		zap.String("file", pdfPath),
		zap.Int("pages", conv.TotalPages),
		zap.Int("images", len(images)),
		zap.String("provider", provider),
		zap.Int("batch_size", batchSize),
	)
	res := a.orch.Execute(ctx, analysis.ID, batchSize)
	progress.finish()

	printSummary(e.out, extractSummary{
		File:     filename,
		Pages:    conv.TotalPages,
		Provider: provider,
		Result:   res,
		Elapsed:  time.Since(started),
	})
	if res.Error != nil {
		return fmt.Errorf("analysis of %s: %w", filename, res.Error)
	}
	return nil
}

// extractProgress renders pipeline events as a progress bar: page
// conversion first, then one step per analyzed image.
type extractProgress struct {
	mu    sync.Mutex
	w     io.Writer
	bar   *progressbar.ProgressBar
	phase tasks.Kind
}

func newExtractProgress(w io.Writer) *extractProgress {
	return &extractProgress{w: w}
}

func (p *extractProgress) newBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Publish implements pipeline.EventPublisher.
func (p *extractProgress) Publish(t tasks.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch t.Kind {
	case tasks.KindUpload:
		if p.phase != tasks.KindUpload {
			p.phase = tasks.KindUpload
			p.bar = p.newBar(100, "converting pages")
		}
		_ = p.bar.Set(t.Progress)
	case tasks.KindAnalysis:
		if t.Status == tasks.StatusPending {
			return
		}
		if p.phase != tasks.KindAnalysis {
			if p.bar != nil {
				_ = p.bar.Finish()
			}
			p.phase = tasks.KindAnalysis
			p.bar = p.newBar(len(t.Analysis.ImagePaths), "analyzing images")
		}
		_ = p.bar.Set(t.Analysis.ProcessedImages)
	}
}

func (p *extractProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
}

type extractSummary struct {
	File     string
	Pages    int
	Provider string
	Result   pipeline.Result
	Elapsed  time.Duration
}

// printSummary writes the colored end-of-run report.
func printSummary(w io.Writer, s extractSummary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Fprintln(w)
	bold.Fprintln(w, "Extraction Summary")
	fmt.Fprintf(w, "  File:       %s (%d pages)\n", s.File, s.Pages)
	fmt.Fprintf(w, "  Provider:   %s\n", s.Provider)
	fmt.Fprintf(w, "  Images:     %d/%d analyzed", s.Result.ProcessedImages-s.Result.FailedImages, s.Result.TotalImages)
	if s.Result.FailedImages > 0 {
		yellow.Fprintf(w, " (%d failed)", s.Result.FailedImages)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Questions:  %d\n", s.Result.TotalQuestions)
	fmt.Fprintf(w, "  Duration:   %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Result.ResultPath != "" {
		fmt.Fprintf(w, "  Result:     %s\n", s.Result.ResultPath)
	}

	switch {
	case s.Result.Error != nil:
		red.Fprintf(w, "✗ Failed: %v\n", s.Result.Error)
	case s.Result.FailedImages > 0:
		yellow.Fprintln(w, "⚠ Completed with skipped images")
	default:
		green.Fprintln(w, "✓ Completed")
	}
}
