// internal/output/manager.go
package output

import (
	"fmt"

	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Manager dispatches harvested results to the configured sink
type Manager struct {
	config Config
	logger utils.Logger
}

// NewManager creates an output manager. The config must already be
// validated.
func NewManager(config Config) *Manager {
	return &Manager{config: config, logger: utils.NewComponentLogger("output")}
}

// NewWriter opens a writer for the configured format
func (m *Manager) NewWriter() (Writer, error) {
	switch m.config.Format {
	case FormatJSON:
		return NewJSONWriter(m.config.Path)
	case FormatCSV:
		return NewCSVWriter(m.config.Path)
	case FormatExcel:
		return NewExcelWriter(m.config.Path)
	case FormatSQLite:
		return NewSQLiteWriter(m.config.Path, m.config.Table)
	case FormatPostgres:
		return NewPostgresWriter(m.config.DSN, m.config.Table)
	case FormatMySQL:
		return NewMySQLWriter(m.config.DSN, m.config.Table)
	case FormatMongoDB:
		return NewMongoWriter(m.config.DSN, m.config.Database, m.config.Collection)
	default:
		return nil, fmt.Errorf("unsupported output format %q", m.config.Format)
	}
}

// WriteResults flattens page results and writes them through a fresh
// writer. Results of failed pages carry no record and are skipped.
func (m *Manager) WriteResults(results []*types.PageResult) error {
	rows := Flatten(results)
	if len(rows) == 0 {
		m.logger.Warn("no successful records to write")
		return nil
	}

	writer, err := m.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to open %s writer: %w", m.config.Format, err)
	}
	defer writer.Close()

	if err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write %d records: %w", len(rows), err)
	}
	m.logger.WithFields(map[string]interface{}{
		"format":  string(m.config.Format),
		"records": len(rows),
	}).Info("results written")
	return nil
}
