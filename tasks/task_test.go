package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalysisTaskDefaults(t *testing.T) {
	images := []string{"a.png", "b.png"}
	task := NewAnalysisTask(AnalysisPayload{Name: "math", ImagePaths: images})

	assert.Equal(t, KindAnalysis, task.Kind)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, FormatCSV, task.Analysis.OutputFormat)
	assert.Equal(t, DefaultBatchSize, task.Analysis.BatchSize)
	assert.Len(t, task.ID, 36)

	images[0] = "mutated.png"
	assert.Equal(t, "a.png", task.Analysis.ImagePaths[0], "image list must be copied at creation")
	require.NoError(t, task.Validate())
}

func TestTaskValidate(t *testing.T) {
	valid := func() Task { return NewAnalysisTask(AnalysisPayload{ImagePaths: []string{"a.png"}}) }

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"empty id", func(tk *Task) { tk.ID = "" }},
		{"unknown kind", func(tk *Task) { tk.Kind = "export" }},
		{"unknown status", func(tk *Task) { tk.Status = "running" }},
		{"progress over 100", func(tk *Task) { tk.Progress = 101 }},
		{"both payloads", func(tk *Task) { tk.Upload = &UploadPayload{} }},
		{"kind mismatch", func(tk *Task) { tk.Kind = KindUpload }},
		{"processed exceeds images", func(tk *Task) { tk.Analysis.ProcessedImages = 2 }},
		{"failed exceeds processed", func(tk *Task) { tk.Analysis.FailedImages = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := valid()
			tt.mutate(&task)
			assert.Error(t, task.Validate())
		})
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	task := NewUploadTask(UploadPayload{Filename: "a.pdf", ImagePaths: []string{"p1.png"}})
	clone := task.Clone()

	clone.Upload.ImagePaths[0] = "changed.png"
	clone.Upload.Filename = "b.pdf"

	assert.Equal(t, "p1.png", task.Upload.ImagePaths[0])
	assert.Equal(t, "a.pdf", task.Upload.Filename)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
