// Package resultsink writes extracted questions to append-only result files.
package resultsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"insightpdf/questions"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
	FormatJSONL = "jsonl"
)

// ErrUnsupportedFormat is returned by Open and ReadQuestions for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported result format")

// Header is the column order of tabular result files.
var Header = []string{"题目ID", "题目内容", "难度等级", "知识点", "答案", "解析", "来源文件", "置信度"}

const (
	defaultName   = "analysis"
	maxNameRunes  = 64
	timestampForm = "20060102_150405"
)

// Sink appends questions to one result file. Append flushes to disk before
// returning, so rows written before a crash survive.
type Sink interface {
	Path() string
	Append(qs []questions.Question) error
	Rows() int
	Close() error
}

// Open creates a new result file in dir and writes its header. Each call
// creates a distinct file; existing results are never touched.
func Open(dir, taskID, taskName, format string) (Sink, error) {
	return OpenAt(dir, taskID, taskName, format, time.Now())
}

// OpenAt is Open with an explicit timestamp for the file name.
func OpenAt(dir, taskID, taskName, format string, at time.Time) (Sink, error) {
	format = strings.ToLower(format)
	if format == "" {
		format = FormatCSV
	}
	if !ValidFormat(format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path, err := reservePath(dir, FileName(taskName, taskID, format, at))
	if err != nil {
		return nil, err
	}

	var s Sink
	switch format {
	case FormatXLSX:
		s, err = newXLSXSink(path)
	case FormatJSONL:
		s, err = newJSONLSink(path)
	default:
		s, err = newCSVSink(path)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

// ValidFormat reports whether format names a supported output format.
func ValidFormat(format string) bool {
	switch format {
	case FormatCSV, FormatXLSX, FormatJSONL:
		return true
	}
	return false
}

// FileName builds {name}_{id[:8]}_{YYYYmmdd_HHMMSS}_questions.{ext}.
func FileName(taskName, taskID, format string, at time.Time) string {
	id := taskID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s_questions.%s", SanitizeName(taskName), id, at.Format(timestampForm), format)
}

// SanitizeName keeps letters, digits, '-' and '_' and replaces everything
// else with '_'. An empty result becomes "analysis".
func SanitizeName(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(name) {
		if n == maxNameRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		n++
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return defaultName
	}
	return out
}

// reservePath creates the file exclusively, adding a numeric suffix when
// a file with the same name already exists.
func reservePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = base + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create result file: %w", err)
		}
		f.Close()
		return path, nil
	}
	return "", fmt.Errorf("create result file: too many files named %s", name)
}

// Row renders q in Header order.
func Row(q questions.Question) []string {
	return []string{
		q.ID,
		q.Content,
		q.Difficulty,
		strings.Join(q.KnowledgePoints, ", "),
		q.Answer,
		q.Explanation,
		q.Source,
		strconv.FormatFloat(q.Confidence, 'f', -1, 64),
	}
}

// parseRow is the inverse of Row.
func parseRow(row []string) questions.Question {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	q := questions.Question{
		ID:          get(0),
		Content:     get(1),
		Difficulty:  get(2),
		Answer:      get(4),
		Explanation: get(5),
		Source:      get(6),
	}
	if kp := strings.TrimSpace(get(3)); kp != "" {
		for _, p := range strings.Split(kp, ", ") {
			q.KnowledgePoints = append(q.KnowledgePoints, strings.TrimSpace(p))
		}
	}
	if c, err := strconv.ParseFloat(get(7), 64); err == nil {
		q.Confidence = c
	}
	return q
}
