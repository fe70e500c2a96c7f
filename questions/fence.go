package questions

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when no JSON object or array is found in the text.
var ErrNoJSONFound = errors.New("no JSON found in text")

var fencePattern = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)\\s*```")

// StripFence removes a markdown code fence around the payload. Text that
// is not fenced is returned trimmed.
//
//	StripFence("```json\n{\"questions\":[]}\n```") == `{"questions":[]}`
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Unterminated fence: drop the opening and closing lines by hand.
	lines := strings.Split(text, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractJSONFromText returns the first JSON object or array embedded in
// prose. Both the outermost object span and the outermost array span are
// tried, earliest first, and the first that decodes wins.
func ExtractJSONFromText(text string) (string, error) {
	obj := bracketSpan(text, "{", "}")
	arr := bracketSpan(text, "[", "]")
	if arr.start != -1 && (obj.start == -1 || arr.start < obj.start) {
		obj, arr = arr, obj
	}
	for _, s := range []span{obj, arr} {
		if s.start == -1 {
			continue
		}
		if candidate := text[s.start : s.end+1]; json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrNoJSONFound
}

type span struct{ start, end int }

// bracketSpan runs from the first open to the last close; start is -1 when
// there is no such span.
func bracketSpan(text, open, closer string) span {
	start := strings.Index(text, open)
	end := strings.LastIndex(text, closer)
	if start == -1 || end < start {
		return span{start: -1, end: -1}
	}
	return span{start: start, end: end}
}

// Field names only OCR engines emit.
var ocrKeys = []string{"words_result", "words_result_num", "char_offset", "chars"}

// isOCRDocument reports whether a decoded document looks like a raw OCR
// engine dump rather than extracted questions. Only object keys count;
// string values such as a knowledge point named "chars" never match.
func isOCRDocument(doc any) bool {
	switch v := doc.(type) {
	case map[string]any:
		for _, k := range ocrKeys {
			if _, ok := v[k]; ok {
				return true
			}
		}
		_, hasLocation := v["location"]
		_, hasWords := v["words"]
		if hasLocation && hasWords {
			return true
		}
		for _, child := range v {
			if isOCRDocument(child) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if isOCRDocument(child) {
				return true
			}
		}
	}
	return false
}
