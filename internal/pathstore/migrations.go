package pathstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// runMigrations brings db up to the latest schema version using goose,
// logging each applied migration. Grounded on the teacher's
// internal/sync/migrations.go embed+goose pattern.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration", slog.String("source", r.Source.Path), slog.Duration("took", r.Duration))
	}

	return nil
}
