package resultsink

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"insightpdf/questions"
)

// ReadQuestions reads a result file back. The format is taken from the
// file extension.
func ReadQuestions(path string) ([]questions.Question, error) {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
	case FormatCSV:
		return readCSV(path)
	case FormatXLSX:
		return readXLSX(path)
	case FormatJSONL:
		return readJSONL(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func readCSV(path string) ([]questions.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv result: %w", err)
	}
	return rowsToQuestions(records), nil
}

func readXLSX(path string) ([]questions.Question, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("read xlsx result: %w", err)
	}
	return rowsToQuestions(rows), nil
}

func rowsToQuestions(rows [][]string) []questions.Question {
	out := []questions.Question{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		out = append(out, parseRow(row))
	}
	return out
}

func readJSONL(path string) ([]questions.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []questions.Question{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var q questions.Question
		if err := json.Unmarshal([]byte(text), &q); err != nil {
			return nil, fmt.Errorf("read jsonl result line %d: %w", line, err)
		}
		out = append(out, q)
	}
	return out, sc.Err()
}
