package pdfprocessor

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultDPI is the render resolution when none is configured.
const DefaultDPI = 150

// ConversionResult lists the rendered page images in page order.
type ConversionResult struct {
	ImagePaths []string
	TempDir    string
	TotalPages int
}

// Converter renders PDF pages to PNG files with MuPDF.
type Converter struct {
	tempRoot string
	dpi      float64
	logger   *zap.Logger
}

// NewConverter writes page images under tempRoot/{task_id}.
func NewConverter(tempRoot string, dpi int, logger *zap.Logger) *Converter {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{tempRoot: tempRoot, dpi: float64(dpi), logger: logger}
}

// OutputDir returns the directory holding taskID's page images.
func (c *Converter) OutputDir(taskID string) string {
	return filepath.Join(c.tempRoot, taskID)
}

// Convert renders every page of pdfPath as page_001.png, page_002.png and
// so on. On failure the partially written directory is removed.
func (c *Converter) Convert(ctx context.Context, pdfPath, taskID string) (result *ConversionResult, err error) {
	if pdfPath == "" {
		return nil, ErrEmptyPath
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for rendering: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	outDir := c.OutputDir(taskID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(outDir)
		}
	}()

	paths := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := c.renderPage(doc, i, outDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)

		c.logger.Debug("rendered page",
			zap.String("task_id", taskID),
			zap.Int("page", i+1),
			zap.Int("pages", pageCount))
	}

	return &ConversionResult{ImagePaths: paths, TempDir: outDir, TotalPages: pageCount}, nil
}

func (c *Converter) renderPage(doc *fitz.Document, index int, outDir string) (string, error) {
	img, err := doc.ImageDPI(index, c.dpi)
	if err != nil {
		return "", fmt.Errorf("failed to render page %d: %w", index+1, err)
	}

	path := filepath.Join(outDir, PageImageName(index+1))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image for page %d: %w", index+1, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode page %d: %w", index+1, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write page %d: %w", index+1, err)
	}
	return path, nil
}

// PageImageName returns the file name for a 1-based page number.
func PageImageName(page int) string {
	return fmt.Sprintf("page_%03d.png", page)
}
