// Package pdfprocessor validates uploaded PDFs and renders their pages to
// PNG images.
package pdfprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"insightpdf/core"
)

// ErrInvalidUpload is matched by every *ValidationError.
var ErrInvalidUpload = errors.New("invalid upload")

// Validation failure reasons.
const (
	ReasonOversize       = "oversize"
	ReasonEmpty          = "empty"
	ReasonWrongExtension = "wrong-extension"
	ReasonBadMagicBytes  = "bad-magic-bytes"
)

var pdfMagic = []byte("%PDF")

// ValidationError describes why an upload was rejected.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidUpload, e.Message)
}

// Is makes errors.Is(err, ErrInvalidUpload) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidUpload
}

// ValidateUpload checks an uploaded file before anything is stored. The
// returned error is a *ValidationError when non-nil.
func ValidateUpload(data []byte, filename string, maxSize int64) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return &ValidationError{
			Reason:  ReasonWrongExtension,
			Message: fmt.Sprintf("only PDF files are accepted, got %q", filename),
		}
	}
	if len(data) == 0 {
		return &ValidationError{Reason: ReasonEmpty, Message: "file is empty"}
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return &ValidationError{
			Reason: ReasonOversize,
			Message: fmt.Sprintf("file is %s, the limit is %s",
				core.FormatBytes(int64(len(data))), core.FormatBytes(maxSize)),
		}
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return &ValidationError{Reason: ReasonBadMagicBytes, Message: "file is not a valid PDF"}
	}
	return nil
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
