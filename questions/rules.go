package questions

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fieldRule lists the keys a field may appear under, in priority order.
type fieldRule struct {
	field string
	keys  []string
}

var (
	idRule          = fieldRule{"id", []string{"id", "question_id", "题号", "序号"}}
	contentRule     = fieldRule{"content", []string{"content", "text", "question", "question_text", "题目", "题目内容", "内容"}}
	answerRule      = fieldRule{"answer", []string{"answer", "答案"}}
	explanationRule = fieldRule{"explanation", []string{"explanation", "analysis", "solution", "解析", "解答"}}
	knowledgeRule   = fieldRule{"knowledge_points", []string{"knowledge_points", "knowledgePoints", "tags", "知识点", "考点"}}
	difficultyRule  = fieldRule{"difficulty", []string{"difficulty", "level", "难度", "难度等级"}}
	confidenceRule  = fieldRule{"confidence", []string{"confidence", "置信度"}}
	sourceRule      = fieldRule{"source", []string{"source", "来源"}}
)

// lookup returns the first present, non-null value for the rule.
func (r fieldRule) lookup(rec map[string]any) (any, bool) {
	for _, k := range r.keys {
		if v, ok := rec[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// text returns the rule's value as a trimmed string.
func (r fieldRule) text(rec map[string]any) string {
	v, ok := r.lookup(rec)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(stringify(e)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprint(t)
	}
}

var knowledgeSeparators = strings.NewReplacer("，", ",", "、", ",", ";", ",", "；", ",", "\n", ",")

// knowledgePoints accepts a list or a delimited string and returns the
// points in order with blanks and duplicates removed.
func knowledgePoints(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			raw = append(raw, stringify(e))
		}
	case string:
		raw = strings.Split(knowledgeSeparators.Replace(t), ",")
	default:
		raw = []string{stringify(t)}
	}

	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// difficulty maps v onto easy, medium or hard; anything else is medium.
func difficulty(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "easy", "simple", "简单", "容易":
		return DifficultyEasy
	case "hard", "difficult", "困难", "难":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// confidence parses numbers, numeric strings and percentages, clamped to
// [0,1]. Missing or unparsable values give DefaultConfidence.
func confidence(v any, present bool) float64 {
	if !present {
		return DefaultConfidence
	}

	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return DefaultConfidence
		}
		if percent {
			parsed /= 100
		}
		f = parsed
	default:
		return DefaultConfidence
	}

	if math.IsNaN(f) {
		return DefaultConfidence
	}
	return math.Max(0, math.Min(1, f))
}
