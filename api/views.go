package api

import (
	"time"

	"insightpdf/questions"
	"insightpdf/tasks"
)

// TaskStatus is the status view of a task: the shared envelope plus the
// progress fields of its kind.
type TaskStatus struct {
	TaskID       string       `json:"task_id"`
	Kind         tasks.Kind   `json:"kind"`
	Status       tasks.Status `json:"status"`
	Progress     int          `json:"progress"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`

	// upload
	Filename       string `json:"filename,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	TotalPages     *int   `json:"total_pages,omitempty"`
	ProcessedPages *int   `json:"processed_pages,omitempty"`
	AnalysisTaskID string `json:"analysis_task_id,omitempty"`

	// analysis
	Name               string `json:"name,omitempty"`
	SourceUploadTaskID string `json:"source_upload_task_id,omitempty"`
	Provider           string `json:"provider,omitempty"`
	OutputFormat       string `json:"output_format,omitempty"`
	TotalImages        *int   `json:"total_images,omitempty"`
	ProcessedImages    *int   `json:"processed_images,omitempty"`
	FailedImages       *int   `json:"failed_images,omitempty"`
	TotalQuestions     *int   `json:"total_questions,omitempty"`
	ResultPath         string `json:"result_path,omitempty"`
}

func intPtr(v int) *int { return &v }

// NewTaskStatus builds the status view of t.
func NewTaskStatus(t tasks.Task) TaskStatus {
	v := TaskStatus{
		TaskID:       t.ID,
		Kind:         t.Kind,
		Status:       t.Status,
		Progress:     t.Progress,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
		ErrorMessage: t.ErrorMessage,
	}
	switch {
	case t.Upload != nil:
		u := t.Upload
		v.Filename = u.Filename
		v.FileSize = u.FileSize
		v.TotalPages = intPtr(u.TotalPages)
		v.ProcessedPages = intPtr(u.ProcessedPages)
		v.AnalysisTaskID = u.AnalysisTaskID
	case t.Analysis != nil:
		a := t.Analysis
		v.Name = a.Name
		v.SourceUploadTaskID = a.SourceUploadTaskID
		v.Provider = a.Provider
		v.OutputFormat = a.OutputFormat
		v.TotalImages = intPtr(len(a.ImagePaths))
		v.ProcessedImages = intPtr(a.ProcessedImages)
		v.FailedImages = intPtr(a.FailedImages)
		v.TotalQuestions = intPtr(a.TotalQuestions)
		v.ResultPath = a.ResultPath
	}
	return v
}

// UploadResult is the result of a completed upload task.
type UploadResult struct {
	TaskID         string   `json:"task_id"`
	Kind           string   `json:"kind"`
	Filename       string   `json:"filename"`
	TotalPages     int      `json:"total_pages"`
	OutputDir      string   `json:"output_dir"`
	ImagePaths     []string `json:"image_paths"`
	AnalysisTaskID string   `json:"analysis_task_id,omitempty"`
}

// AnalysisResult is the result of a completed analysis task.
type AnalysisResult struct {
	TaskID          string               `json:"task_id"`
	Kind            string               `json:"kind"`
	Name            string               `json:"name"`
	ResultPath      string               `json:"result_path"`
	TotalQuestions  int                  `json:"total_questions"`
	ProcessedImages int                  `json:"processed_images"`
	FailedImages    int                  `json:"failed_images"`
	Questions       []questions.Question `json:"questions"`
}

// ImageInfo describes one rendered page of an upload.
type ImageInfo struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	PageNumber int    `json:"page_number"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}
