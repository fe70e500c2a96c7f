package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// VisionCallMetrics describes one call to a vision model.
// Implements zapcore.ObjectMarshaler for structured logging.
type VisionCallMetrics struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Image            string        `json:"image"`
	Attempts         int           `json:"attempts"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration"`
	ResponseChars    int           `json:"response_chars"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m VisionCallMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("provider", m.Provider)
	enc.AddString("model", m.Model)
	if m.Image != "" {
		enc.AddString("image", m.Image)
	}
	enc.AddInt("attempts", m.Attempts)
	enc.AddInt("prompt_tokens", m.PromptTokens)
	enc.AddInt("completion_tokens", m.CompletionTokens)
	enc.AddDuration("duration", m.Duration)
	enc.AddInt("response_chars", m.ResponseChars)
	return nil
}

// VisionFields wraps metrics in a single "vision" field.
//
//	logger.Info("page analysed", logging.VisionFields(metrics))
func VisionFields(m VisionCallMetrics) zap.Field {
	return zap.Object("vision", m)
}

// TaskFields returns the fields every pipeline log line about a task carries.
func TaskFields(taskID, kind string) []zap.Field {
	return []zap.Field{
		zap.String("task_id", taskID),
		zap.String("task_kind", kind),
	}
}

// ProgressFields returns the fields for a batch progress line.
func ProgressFields(done, total, progress int) []zap.Field {
	return []zap.Field{
		zap.Int("done", done),
		zap.Int("total", total),
		zap.Int("progress", progress),
	}
}
