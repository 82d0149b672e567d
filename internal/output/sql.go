// internal/output/sql.go
package output

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// sqlWriter is the shared core of the relational sinks. Records land in
// a single table with TEXT columns; collections are stored as JSON.
type sqlWriter struct {
	db          *sql.DB
	table       string
	quoteIdent  func(string) string
	placeholder func(int) string

	columns []string
	closed  bool
}

func newSQLWriter(db *sql.DB, table string, quote func(string) string, placeholder func(int) string) (*sqlWriter, error) {
	if table == "" {
		table = "results"
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &sqlWriter{
		db:          db,
		table:       table,
		quoteIdent:  quote,
		placeholder: placeholder,
	}, nil
}

// Write creates the table on first use and inserts all records in one
// transaction.
func (w *sqlWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(records) == 0 {
		return nil
	}

	if w.columns == nil {
		w.columns = columnsOf(records)
		if err := w.createTable(); err != nil {
			return err
		}
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(w.insertSQL())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(w.columns))
	for _, record := range records {
		for i, column := range w.columns {
			args[i] = sqlValue(record[column])
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (w *sqlWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}

func (w *sqlWriter) createTable() error {
	defs := make([]string, len(w.columns))
	for i, column := range w.columns {
		defs[i] = w.quoteIdent(column) + " TEXT"
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		w.quoteIdent(w.table), strings.Join(defs, ", "))
	if _, err := w.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

func (w *sqlWriter) insertSQL() string {
	quoted := make([]string, len(w.columns))
	marks := make([]string, len(w.columns))
	for i, column := range w.columns {
		quoted[i] = w.quoteIdent(column)
		marks[i] = w.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.quoteIdent(w.table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

// sqlValue renders a record value for a TEXT column
func sqlValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return cellString(val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func questionMark(int) string { return "?" }

func dollarN(n int) string { return fmt.Sprintf("$%d", n) }
