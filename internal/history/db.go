// Package history keeps redacted snapshot summaries in a local DuckDB
// database so trends survive across sessions.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// Open opens or creates the database at path. An empty path opens an
// in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	connector, err := duckdbDriver.NewConnector(path, func(execer driver.ExecerContext) error {
		// Timestamps are stored and compared in UTC.
		_, err := execer.ExecContext(context.Background(), "SET TimeZone = 'UTC'", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %q: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}
