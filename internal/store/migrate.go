package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrations embed.FS

// Migrate applies pending schema migrations for the store's driver.
func Migrate(ctx context.Context, a Accounts, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	switch s := a.(type) {
	case *Postgres:
		db := stdlib.OpenDBFromPool(s.db)
		defer db.Close()
		return up(ctx, db, goose.DialectPostgres, "migrations/postgres", logger)
	case *SQLite:
		return up(ctx, s.db, goose.DialectSQLite3, "migrations/sqlite3", logger)
	default:
		return fmt.Errorf("migrate: unsupported store %T", a)
	}
}

func up(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string, logger *log.Logger) error {
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		logger.Printf("store: applied migration %d (%s) in %v", r.Source.Version, r.Source.Path, r.Duration)
	}
	return nil
}
