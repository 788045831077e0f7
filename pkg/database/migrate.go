package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	dbsql "bursar/pkg/database/sql"
	"bursar/pkg/logging"
)

// Migrate applies the embedded schema files in lexical order. The DDL is
// idempotent (CREATE ... IF NOT EXISTS), so running at every startup is safe.
func Migrate(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	entries, err := fs.ReadDir(dbsql.Content, "schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := dbsql.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied schema file")
	}
	return nil
}
