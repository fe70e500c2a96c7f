package resultsink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"insightpdf/questions"
)

// jsonlSink writes one JSON object per question. It has no header line.
type jsonlSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	rows int
}

func newJSONLSink(path string) (*jsonlSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl result: %w", err)
	}
	return &jsonlSink{path: path, f: f}, nil
}

func (s *jsonlSink) Path() string { return s.path }

func (s *jsonlSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *jsonlSink) Append(qs []questions.Question) error {
	if len(qs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("append to closed result %s", s.path)
	}

	enc := json.NewEncoder(s.f)
	enc.SetEscapeHTML(false)
	for _, q := range qs {
		if err := enc.Encode(q); err != nil {
			return fmt.Errorf("write jsonl row: %w", err)
		}
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync jsonl result: %w", err)
	}
	s.rows += len(qs)
	return nil
}

func (s *jsonlSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
