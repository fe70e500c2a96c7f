package resultsink

import (
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"

	"insightpdf/questions"
)

const xlsxSheet = "Questions"

// xlsxSink keeps the workbook open and saves it after every append.
type xlsxSink struct {
	mu      sync.Mutex
	path    string
	f       *excelize.File
	nextRow int
}

func newXLSXSink(path string) (*xlsxSink, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("prepare xlsx sheet: %w", err)
	}

	s := &xlsxSink{path: path, f: f, nextRow: 1}
	if err := s.writeRow(toCells(Header)); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SaveAs(path); err != nil {
		f.Close()
		return nil, fmt.Errorf("save xlsx result: %w", err)
	}
	return s, nil
}

func (s *xlsxSink) Path() string { return s.path }

func (s *xlsxSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRow - 2
}

func (s *xlsxSink) Append(qs []questions.Question) error {
	if len(qs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("append to closed result %s", s.path)
	}

	for _, q := range qs {
		row := toCells(Row(q))
		row[len(row)-1] = q.Confidence
		if err := s.writeRow(row); err != nil {
			return err
		}
	}
	if err := s.f.Save(); err != nil {
		return fmt.Errorf("save xlsx result: %w", err)
	}
	return nil
}

func (s *xlsxSink) writeRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.nextRow)
	if err != nil {
		return err
	}
	if err := s.f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
		return fmt.Errorf("write xlsx row %d: %w", s.nextRow, err)
	}
	s.nextRow++
	return nil
}

func (s *xlsxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
