// internal/output/types.go
package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/velcourt/pageharvest/pkg/types"
)

// Format identifies an output sink
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatExcel    Format = "excel"
	FormatSQLite   Format = "sqlite"
	FormatPostgres Format = "postgres"
	FormatMySQL    Format = "mysql"
	FormatMongoDB  Format = "mongodb"
)

// IsValid checks if the format is a known sink
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatExcel, FormatSQLite,
		FormatPostgres, FormatMySQL, FormatMongoDB:
		return true
	}
	return false
}

// Config selects and parameterizes the output sink. Path serves the
// file-based sinks, DSN the database sinks.
type Config struct {
	Format     Format `yaml:"format" json:"format"`
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	DSN        string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Table      string `yaml:"table,omitempty" json:"table,omitempty"`
	Database   string `yaml:"database,omitempty" json:"database,omitempty"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`
}

// Validate checks the config names a usable sink
func (c *Config) Validate() error {
	if c.Format == "" {
		return nil
	}
	if !c.Format.IsValid() {
		return fmt.Errorf("unsupported output format %q", c.Format)
	}
	switch c.Format {
	case FormatJSON, FormatCSV, FormatExcel, FormatSQLite:
		if c.Path == "" {
			return fmt.Errorf("%s output requires a path", c.Format)
		}
	case FormatPostgres, FormatMySQL:
		if c.DSN == "" {
			return fmt.Errorf("%s output requires a dsn", c.Format)
		}
	case FormatMongoDB:
		if c.DSN == "" || c.Database == "" || c.Collection == "" {
			return fmt.Errorf("mongodb output requires dsn, database and collection")
		}
	}
	return nil
}

// Writer is the sink interface. Write may be called repeatedly; Close
// flushes and releases resources.
type Writer interface {
	Write(records []map[string]interface{}) error
	Close() error
}

// Flatten converts page results into sink rows. Extracted fields keep
// their names; fetch metadata goes under underscore-prefixed keys so it
// never collides with template fields.
func Flatten(results []*types.PageResult) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		if !r.Success || len(r.Record) == 0 {
			continue
		}
		row := make(map[string]interface{}, len(r.Record)+3)
		for k, v := range r.Record {
			row[k] = v
		}
		row["_url"] = r.URL
		row["_fetched_at"] = r.FetchedAt.Format(time.RFC3339)
		row["_coverage"] = r.Coverage
		rows = append(rows, row)
	}
	return rows
}

// columnsOf returns the sorted union of keys across all records, so
// tabular sinks get a stable header even when records are sparse.
func columnsOf(records []map[string]interface{}) []string {
	set := make(map[string]bool)
	for _, record := range records {
		for key := range record {
			set[key] = true
		}
	}
	columns := make([]string, 0, len(set))
	for key := range set {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

// cellString renders a record value for tabular sinks
func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprintf("%v", item)
		}
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += "; "
			}
			out += p
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}
