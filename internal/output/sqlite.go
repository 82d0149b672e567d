// internal/output/sqlite.go
package output

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteWriter writes records to a SQLite database file
type SQLiteWriter struct {
	*sqlWriter
}

// NewSQLiteWriter opens or creates the database file and its table
func NewSQLiteWriter(path, table string) (*SQLiteWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	core, err := newSQLWriter(db, table, quoteDouble, questionMark)
	if err != nil {
		return nil, err
	}
	return &SQLiteWriter{sqlWriter: core}, nil
}
