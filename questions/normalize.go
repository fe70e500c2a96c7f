package questions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Normalizer converts raw model output into questions. It never fails:
// anything it cannot use is logged and dropped.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer returns a Normalizer logging to logger (nil discards).
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize parses raw and returns the questions it contains, in response
// order. Records without content are skipped. fallbackSource fills in a
// missing source.
func (n *Normalizer) Normalize(raw, fallbackSource string) []Question {
	payload := StripFence(raw)
	if payload == "" {
		n.logger.Debug("empty model response")
		return nil
	}

	doc, err := n.decode(payload)
	if err != nil {
		n.logger.Warn("unparsable model response",
			zap.String("source", fallbackSource),
			zap.Int("length", len(payload)),
			zap.Error(err))
		return nil
	}

	if isOCRDocument(doc) {
		n.logger.Warn("model returned an OCR payload instead of questions",
			zap.String("source", fallbackSource))
		return nil
	}

	records, err := questionRecords(doc)
	if err != nil {
		n.logger.Warn("unusable model response",
			zap.String("source", fallbackSource),
			zap.Error(err))
		return nil
	}

	out := make([]Question, 0, len(records))
	for i, rec := range records {
		q, ok := n.buildQuestion(i, rec, fallbackSource)
		if ok {
			out = append(out, q)
		}
	}
	return out
}

// decode parses payload as JSON, falling back to the first object or array
// embedded in prose.
func (n *Normalizer) decode(payload string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		embedded, xerr := ExtractJSONFromText(payload)
		if xerr != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if err := json.Unmarshal([]byte(embedded), &doc); err != nil {
			return nil, fmt.Errorf("decode embedded JSON: %w", err)
		}
		n.logger.Debug("recovered JSON from surrounding text")
	}
	return doc, nil
}

// questionRecords accepts {"questions":[...]}, a bare array or a single
// question object.
func questionRecords(doc any) ([]any, error) {
	switch t := doc.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if list, ok := t["questions"]; ok {
			switch l := list.(type) {
			case []any:
				return l, nil
			case nil:
				return nil, nil
			default:
				return nil, fmt.Errorf("questions field is %T, not a list", list)
			}
		}
		if _, ok := contentRule.lookup(t); ok {
			return []any{t}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected top-level %T", doc)
	}
}

// buildQuestion standardizes one record. A panic while building is
// recovered and the record dropped.
func (n *Normalizer) buildQuestion(index int, v any, fallbackSource string) (q Question, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("skipping malformed question record",
				zap.Int("index", index),
				zap.Any("panic", r))
			q, ok = Question{}, false
		}
	}()

	rec, isMap := v.(map[string]any)
	if !isMap {
		n.logger.Debug("skipping non-object question record",
			zap.Int("index", index), zap.String("type", fmt.Sprintf("%T", v)))
		return Question{}, false
	}

	q.Content = contentRule.text(rec)
	if q.Content == "" {
		n.logger.Debug("skipping question record", zap.Int("index", index),
			zap.String("missing", contentRule.field))
		return Question{}, false
	}

	q.ID = idRule.text(rec)
	if q.ID == "" {
		q.ID = strconv.Itoa(index + 1)
	}
	q.Answer = answerRule.text(rec)
	q.Explanation = explanationRule.text(rec)
	if kp, found := knowledgeRule.lookup(rec); found {
		q.KnowledgePoints = knowledgePoints(kp)
	}
	q.Difficulty = difficulty(difficultyRule.text(rec))
	conf, found := confidenceRule.lookup(rec)
	q.Confidence = confidence(conf, found)
	q.Source = sourceRule.text(rec)
	if q.Source == "" {
		q.Source = strings.TrimSpace(fallbackSource)
	}
	return q, true
}

// Normalize is a convenience wrapper around a Normalizer that discards logs.
func Normalize(raw, fallbackSource string) []Question {
	return NewNormalizer(nil).Normalize(raw, fallbackSource)
}
