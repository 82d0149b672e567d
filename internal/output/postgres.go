// internal/output/postgres.go
package output

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresWriter writes records to a PostgreSQL table
type PostgresWriter struct {
	*sqlWriter
}

// NewPostgresWriter connects with a lib/pq DSN
func NewPostgresWriter(dsn, table string) (*PostgresWriter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	db.SetMaxOpenConns(4)

	core, err := newSQLWriter(db, table, quoteDouble, dollarN)
	if err != nil {
		return nil, err
	}
	return &PostgresWriter{sqlWriter: core}, nil
}
