// internal/output/csv.go
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// CSVWriter writes records as CSV with a header derived from the union
// of record keys.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
	closed  bool
}

// NewCSVWriter creates a CSV file writer
func NewCSVWriter(path string) (*CSVWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("CSV output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV output file: %w", err)
	}
	return &CSVWriter{file: file, writer: csv.NewWriter(file)}, nil
}

// Write appends records. The header is fixed by the first batch; later
// batches with extra keys drop the unknown columns.
func (w *CSVWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(records) == 0 {
		return nil
	}

	if w.columns == nil {
		w.columns = columnsOf(records)
		if err := w.writer.Write(w.columns); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	row := make([]string, len(w.columns))
	for _, record := range records {
		for i, column := range w.columns {
			row[i] = cellString(record[column])
		}
		if err := w.writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
