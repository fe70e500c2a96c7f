// Package pipeline drives upload and analysis tasks: it rasterizes uploaded
// PDFs, runs analysis in batches over page images and streams the extracted
// questions into result files while keeping task progress current.
package pipeline

import (
	"context"

	"insightpdf/pdfprocessor"
	"insightpdf/questions"
	"insightpdf/resultsink"
	"insightpdf/tasks"
	"insightpdf/vision"
)

// VisionExtractor returns the raw model text for one page image.
// *vision.Extractor satisfies it.
type VisionExtractor interface {
	Extract(ctx context.Context, req vision.Request) (vision.Response, error)
}

// ResponseNormalizer turns raw model text into questions.
// *questions.Normalizer satisfies it.
type ResponseNormalizer interface {
	Normalize(raw, fallbackSource string) []questions.Question
}

// PageConverter rasterizes a PDF. *pdfprocessor.Converter satisfies it.
type PageConverter interface {
	Convert(ctx context.Context, pdfPath, taskID string) (*pdfprocessor.ConversionResult, error)
}

// SinkOpener creates a new result file. resultsink.Open satisfies it.
type SinkOpener func(dir, taskID, taskName, format string) (resultsink.Sink, error)

// EventPublisher receives every task state written by the pipeline.
type EventPublisher interface {
	Publish(t tasks.Task)
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(t tasks.Task)

// Publish calls f(t).
func (f PublisherFunc) Publish(t tasks.Task) { f(t) }

type nopPublisher struct{}

func (nopPublisher) Publish(tasks.Task) {}
