package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"insightpdf/tasks"
)

var (
	// ErrUploadNotReady is returned when images are requested from an upload
	// that has not completed.
	ErrUploadNotReady = errors.New("upload task has not completed")
	// ErrInvalidSelection is returned for an out-of-range image index.
	ErrInvalidSelection = errors.New("invalid image selection")
	// ErrNoImages is returned when an analysis would have nothing to analyze.
	ErrNoImages = errors.New("no images selected")
)

// SelectImages returns the upload's images at indices, in the order given.
// Nil or empty indices select every image.
func SelectImages(upload tasks.Task, indices []int) ([]string, error) {
	if upload.Kind != tasks.KindUpload || upload.Upload == nil {
		return nil, fmt.Errorf("%w: %s is not an upload task", tasks.ErrWrongKind, upload.ID)
	}
	if upload.Status != tasks.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrUploadNotReady, upload.ID, upload.Status)
	}

	images := upload.Upload.ImagePaths
	if len(indices) == 0 {
		if len(images) == 0 {
			return nil, ErrNoImages
		}
		return append([]string(nil), images...), nil
	}

	out := make([]string, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(images) {
			return nil, fmt.Errorf("%w: index %d outside 0..%d", ErrInvalidSelection, i, len(images)-1)
		}
		out = append(out, images[i])
	}
	return out, nil
}

// DefaultAnalysisName derives a default analysis name from an uploaded file name.
func DefaultAnalysisName(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name == "" || name == "." {
		return "analysis"
	}
	return name
}
