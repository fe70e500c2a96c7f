// Package tasks holds the upload and analysis task model and the durable
// store every pipeline stage reads and writes through.
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects which payload a Task carries.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindAnalysis Kind = "analysis"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUpload || k == KindAnalysis
}

// Status is the lifecycle state shared by all tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further work is expected for the task.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Output formats for analysis results.
const (
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
	FormatJSONL = "jsonl"
)

// DefaultBatchSize is used when a task or request leaves the batch size unset.
const DefaultBatchSize = 10

// Task is the envelope shared by upload and analysis tasks. Exactly one of
// Upload or Analysis is set, matching Kind.
type Task struct {
	ID           string     `json:"task_id"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`

	Upload   *UploadPayload   `json:"upload,omitempty"`
	Analysis *AnalysisPayload `json:"analysis,omitempty"`
}

// UploadPayload tracks one uploaded PDF through conversion.
type UploadPayload struct {
	Filename       string   `json:"filename"`
	FileSize       int64    `json:"file_size"`
	Checksum       string   `json:"checksum,omitempty"`
	FilePath       string   `json:"file_path"`
	TotalPages     int      `json:"total_pages,omitempty"`
	ProcessedPages int      `json:"processed_pages,omitempty"`
	OutputDir      string   `json:"output_dir,omitempty"`
	ImagePaths     []string `json:"image_paths,omitempty"`

	// Defaults carried into the analysis created from this upload.
	Provider     string `json:"provider,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`

	AutoAnalyze    bool   `json:"auto_analyze"`
	SkipCoverPages int    `json:"skip_cover_pages,omitempty"`
	SkipBackPages  int    `json:"skip_back_pages,omitempty"`
	AnalysisTaskID string `json:"analysis_task_id,omitempty"`
}

// AnalysisPayload tracks extraction over a fixed list of page images.
type AnalysisPayload struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description,omitempty"`
	SourceUploadTaskID     string   `json:"source_upload_task_id,omitempty"`
	ImagePaths             []string `json:"image_paths"`
	Provider               string   `json:"provider"`
	CustomPrompt           string   `json:"custom_prompt,omitempty"`
	ExtractAnswers         bool     `json:"extract_answers"`
	ExtractKnowledgePoints bool     `json:"extract_knowledge_points"`
	OutputFormat           string   `json:"output_format"`
	BatchSize              int      `json:"batch_size"`

	TotalQuestions  int    `json:"total_questions"`
	ProcessedImages int    `json:"processed_images"`
	FailedImages    int    `json:"failed_images"`
	ResultPath      string `json:"result_path,omitempty"`
	Runs            int    `json:"runs"`
}

// NewUploadTask returns a pending upload task with a fresh id.
func NewUploadTask(p UploadPayload) Task {
	now := time.Now().UTC()
	return Task{
		ID:        uuid.NewString(),
		Kind:      KindUpload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Upload:    &p,
	}
}

// NewAnalysisTask returns a pending analysis task with a fresh id. Unset
// output format and batch size take their defaults.
func NewAnalysisTask(p AnalysisPayload) Task {
	if p.OutputFormat == "" {
		p.OutputFormat = FormatCSV
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	p.ImagePaths = append([]string(nil), p.ImagePaths...)

	now := time.Now().UTC()
	return Task{
		ID:        uuid.NewString(),
		Kind:      KindAnalysis,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Analysis:  &p,
	}
}

// Validate checks the envelope and that the payload matches the kind.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("task %s: progress %d out of range", t.ID, t.Progress)
	}

	switch t.Kind {
	case KindUpload:
		if t.Upload == nil || t.Analysis != nil {
			return fmt.Errorf("task %s: upload task must carry only an upload payload", t.ID)
		}
	case KindAnalysis:
		if t.Analysis == nil || t.Upload != nil {
			return fmt.Errorf("task %s: analysis task must carry only an analysis payload", t.ID)
		}
		a := t.Analysis
		if a.ProcessedImages < 0 || a.ProcessedImages > len(a.ImagePaths) {
			return fmt.Errorf("task %s: processed_images %d exceeds %d images", t.ID, a.ProcessedImages, len(a.ImagePaths))
		}
		if a.FailedImages < 0 || a.FailedImages > a.ProcessedImages {
			return fmt.Errorf("task %s: failed_images %d exceeds processed_images %d", t.ID, a.FailedImages, a.ProcessedImages)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with the store.
func (t Task) Clone() Task {
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	if t.Upload != nil {
		u := *t.Upload
		u.ImagePaths = append([]string(nil), u.ImagePaths...)
		t.Upload = &u
	}
	if t.Analysis != nil {
		a := *t.Analysis
		a.ImagePaths = append([]string(nil), a.ImagePaths...)
		t.Analysis = &a
	}
	return t
}
