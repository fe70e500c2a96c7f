package pdfprocessor

import (
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrEmptyPath is returned when an empty file path is provided.
var ErrEmptyPath = errors.New("empty PDF path provided")

// ErrNoPages is returned for a document without pages.
var ErrNoPages = errors.New("PDF has no pages")

// PageCount opens the PDF and returns its number of pages. It doubles as a
// structural check: a file whose xref or page tree cannot be read fails here.
func PageCount(pdfPath string) (n int, err error) {
	if pdfPath == "" {
		return 0, ErrEmptyPath
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("failed to parse PDF %s: %v", pdfPath, r)
		}
	}()

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n = r.NumPage()
	if n == 0 {
		return 0, ErrNoPages
	}
	return n, nil
}
