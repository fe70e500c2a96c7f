// Package questions turns raw vision-model output into Question records.
package questions

// Difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// DefaultConfidence is used when a record has no usable confidence.
const DefaultConfidence = 0.8

// Question is one word problem extracted from a page image. ID is the
// sequence within a single response and is not globally unique.
type Question struct {
	ID              string   `json:"id"`
	Content         string   `json:"content"`
	Answer          string   `json:"answer,omitempty"`
	Explanation     string   `json:"explanation,omitempty"`
	KnowledgePoints []string `json:"knowledge_points,omitempty"`
	Difficulty      string   `json:"difficulty"`
	Source          string   `json:"source"`
	Confidence      float64  `json:"confidence"`
}
