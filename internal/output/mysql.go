// internal/output/mysql.go
package output

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLWriter writes records to a MySQL table
type MySQLWriter struct {
	*sqlWriter
}

// NewMySQLWriter connects with a go-sql-driver DSN
func NewMySQLWriter(dsn, table string) (*MySQLWriter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("MySQL DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(4)

	core, err := newSQLWriter(db, table, quoteBacktick, questionMark)
	if err != nil {
		return nil, err
	}
	return &MySQLWriter{sqlWriter: core}, nil
}
