// internal/output/excel.go
package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const excelSheetName = "Results"

// maxCellLength is the Excel limit on characters in a single cell
const maxCellLength = 32767

// ExcelWriter writes records to an .xlsx workbook
type ExcelWriter struct {
	path    string
	file    *excelize.File
	columns []string
	row     int
	closed  bool
}

// NewExcelWriter creates an Excel workbook writer
func NewExcelWriter(path string) (*ExcelWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("Excel output path is required")
	}
	file := excelize.NewFile()
	index, err := file.NewSheet(excelSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}
	return &ExcelWriter{path: path, file: file, row: 1}, nil
}

// Write appends records as worksheet rows
func (w *ExcelWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(records) == 0 {
		return nil
	}

	if w.columns == nil {
		w.columns = columnsOf(records)
		header := make([]interface{}, len(w.columns))
		for i, column := range w.columns {
			header[i] = column
		}
		if err := w.writeRow(header); err != nil {
			return err
		}
	}

	for _, record := range records {
		cells := make([]interface{}, len(w.columns))
		for i, column := range w.columns {
			cell := cellString(record[column])
			if len(cell) > maxCellLength {
				cell = cell[:maxCellLength]
			}
			cells[i] = cell
		}
		if err := w.writeRow(cells); err != nil {
			return err
		}
	}
	return nil
}

func (w *ExcelWriter) writeRow(cells []interface{}) error {
	ref, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return fmt.Errorf("failed to compute cell reference: %w", err)
	}
	if err := w.file.SetSheetRow(excelSheetName, ref, &cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

// Close saves the workbook
func (w *ExcelWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.SaveAs(w.path); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return w.file.Close()
}
