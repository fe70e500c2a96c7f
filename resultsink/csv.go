package resultsink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"insightpdf/questions"
)

type csvSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	rows int
}

func newCSVSink(path string) (*csvSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open csv result: %w", err)
	}
	s := &csvSink{path: path, f: f, w: csv.NewWriter(f)}
	if err := s.writeAndSync([][]string{Header}); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *csvSink) Path() string { return s.path }

func (s *csvSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *csvSink) Append(qs []questions.Question) error {
	if len(qs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("append to closed result %s", s.path)
	}

	records := make([][]string, len(qs))
	for i, q := range qs {
		records[i] = Row(q)
	}
	if err := s.writeAndSync(records); err != nil {
		return err
	}
	s.rows += len(qs)
	return nil
}

func (s *csvSink) writeAndSync(records [][]string) error {
	if err := s.w.WriteAll(records); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync csv result: %w", err)
	}
	return nil
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
