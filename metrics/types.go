// Package metrics provides pure data types for run history and counters.
package metrics

import "time"

// RunRecord is one finished pipeline execution: an upload conversion or an
// analysis run.
type RunRecord struct {
	// TaskID is the task this run executed.
	TaskID string `json:"task_id"`

	// Kind is "upload" or "analysis".
	Kind string `json:"kind"`

	// Name is the analysis name or uploaded file name.
	Name string `json:"name"`

	// Provider is the vision provider used, empty for uploads.
	Provider string `json:"provider,omitempty"`

	// Status is "success" or "error".
	Status string `json:"status"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Images is the number of images processed (pages rendered for uploads).
	Images       int `json:"images"`
	FailedImages int `json:"failed_images"`
	Questions    int `json:"questions"`

	ResultPath string `json:"result_path,omitempty"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// VisionMetrics aggregates vision calls per provider.
type VisionMetrics struct {
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
	Attempts    int64         `json:"attempts"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// SystemStatus represents the overall system health and status.
type SystemStatus struct {
	// Health indicates the system state: "running", "degraded", "stopped"
	Health string `json:"health"`

	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	LastCheck time.Time     `json:"last_check"`
}

// TaskMetrics represents aggregated run statistics.
type TaskMetrics struct {
	TotalRuns      int64                     `json:"total_runs"`
	TotalSuccess   int64                     `json:"total_success"`
	TotalErrors    int64                     `json:"total_errors"`
	TotalImages    int64                     `json:"total_images"`
	TotalQuestions int64                     `json:"total_questions"`
	ByKind         map[string]*KindMetrics   `json:"by_kind"`
	Vision         map[string]*VisionMetrics `json:"vision"`
}

// KindMetrics represents statistics for one run kind.
type KindMetrics struct {
	Count       int64         `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Status constants for RunRecord
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Health constants for SystemStatus
const (
	SystemHealthRunning  = "running"
	SystemHealthDegraded = "degraded"
	SystemHealthStopped  = "stopped"
)

// Run kinds
const (
	RunKindUpload   = "upload"
	RunKindAnalysis = "analysis"
)
