package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// advisoryLockID is an arbitrary constant used for the startup
// migration lock so multiple worker processes can boot concurrently
// without racing to apply the same migration twice (spec.md §4.1).
const advisoryLockID = 849217001

// Migrate applies all pending goose migrations under an advisory lock.
// Migrations are ordered and idempotent; goose's own bookkeeping table
// provides the ordering guarantee, the advisory lock provides the
// cross-process mutual exclusion.
func Migrate(ctx context.Context, sqlDB *sql.DB, pgxPool *pgxpool.Pool) error {
	conn, err := pgxPool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire advisory lock connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", advisoryLockID); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "select pg_advisory_unlock($1)", advisoryLockID)
	}()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
