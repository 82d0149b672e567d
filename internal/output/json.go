// internal/output/json.go
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// JSONWriter writes records as a pretty-printed JSON array
type JSONWriter struct {
	out     io.WriteCloser
	records []map[string]interface{}
	closed  bool
}

// NewJSONWriter creates a JSON file writer
func NewJSONWriter(path string) (*JSONWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("JSON output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON output file: %w", err)
	}
	return &JSONWriter{out: file}, nil
}

// NewJSONStreamWriter writes to an arbitrary stream, used by the CLI for
// stdout output.
func NewJSONStreamWriter(out io.WriteCloser) *JSONWriter {
	return &JSONWriter{out: out}
}

// Write buffers records; the array is emitted on Close so the output is
// one valid JSON document.
func (w *JSONWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	w.records = append(w.records, records...)
	return nil
}

// Close emits the buffered array and closes the stream
func (w *JSONWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	encoder := json.NewEncoder(w.out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(w.records); err != nil {
		w.out.Close()
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return w.out.Close()
}
