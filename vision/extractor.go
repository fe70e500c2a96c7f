package vision

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"insightpdf/logging"
)

// Request describes one image to analyze.
type Request struct {
	ImagePath    string
	Provider     string
	Filename     string // source document name, used in the default prompt
	CustomPrompt string
	Options      PromptOptions
}

// Response is the raw model text for one image.
type Response struct {
	Text     string
	Provider string
	Model    string
	Attempts int
	Duration time.Duration
}

// Extractor turns an image into raw model text, retrying transient failures.
type Extractor struct {
	registry *Registry
	retry    RetryConfig
	maxSide  int
	logger   *zap.Logger
}

// NewExtractor returns an Extractor using registry's clients. maxSide
// bounds the longer side of uploaded images (0 sends them as-is).
func NewExtractor(registry *Registry, retry RetryConfig, maxSide int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		registry: registry,
		retry:    retry,
		maxSide:  maxSide,
		logger:   logger.Named("vision"),
	}
}

// Extract sends the image to the requested provider. A failure after the
// last retry wraps ErrRetriesExhausted; unknown or unconfigured providers
// fail immediately. On call failure the Response still carries provider,
// attempts and duration but no text.
func (e *Extractor) Extract(ctx context.Context, req Request) (Response, error) {
	client, err := e.registry.Get(req.Provider)
	if err != nil {
		return Response{}, err
	}

	imageURL, err := PrepareImage(req.ImagePath, e.maxSide)
	if err != nil {
		return Response{}, err
	}
	prompt := BuildPrompt(req.Filename, req.CustomPrompt, req.Options)

	start := time.Now()
	var completion Completion
	attempts, err := withRetry(ctx, e.retry,
		func(aerr *AttemptError, wait time.Duration) {
			e.logger.Warn("vision call failed, retrying",
				zap.String("provider", client.Name()),
				zap.String("image", filepath.Base(req.ImagePath)),
				zap.Duration("wait", wait),
				zap.Error(aerr))
		},
		func(ctx context.Context) error {
			var cerr error
			completion, cerr = client.Complete(ctx, prompt, imageURL)
			return cerr
		})
	elapsed := time.Since(start)
	if err != nil {
		// Attempts and timing are still reported so callers can account for the call.
		return Response{
			Provider: client.Name(),
			Model:    client.Model(),
			Attempts: attempts,
			Duration: elapsed,
		}, fmt.Errorf("analyze %s: %w", filepath.Base(req.ImagePath), err)
	}

	e.logger.Info("vision call completed", logging.VisionFields(logging.VisionCallMetrics{
		Provider:         client.Name(),
		Model:            client.Model(),
		Image:            filepath.Base(req.ImagePath),
		Attempts:         attempts,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		Duration:         elapsed,
		ResponseChars:    len(completion.Text),
	}))

	model := completion.Model
	if model == "" {
		model = client.Model()
	}
	return Response{
		Text:     completion.Text,
		Provider: client.Name(),
		Model:    model,
		Attempts: attempts,
		Duration: elapsed,
	}, nil
}
