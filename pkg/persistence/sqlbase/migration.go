// Package sqlbase holds the schema migration runner shared by SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockKey identifies the advisory lock serializing concurrent
// migrators, as the api and engine binaries start against the same database.
const migrationLockKey = 0x5a6af10

// Migrator applies numbered schema migrations exactly once.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrator(logger *slog.Logger, db *sql.DB, migrations map[int]string) *Migrator {
	return &Migrator{
		db:         db,
		logger:     logger.With("module", "migrator"),
		migrations: migrations,
	}
}

// Migrate applies every pending migration inside one transaction. Either the
// schema reaches the latest version or nothing changes.
func (m *Migrator) Migrate(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	pending := m.pending(current)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "Schema is up to date", "version", current)

		return nil
	}

	for _, version := range pending {
		m.logger.InfoContext(ctx, "Applying migration", "version", version)

		if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	m.logger.InfoContext(ctx, "Schema migrated", "from", current, "to", pending[len(pending)-1])

	return nil
}

// pending lists versions above current in ascending order.
func (m *Migrator) pending(current int) []int {
	return slices.DeleteFunc(slices.Sorted(maps.Keys(m.migrations)), func(version int) bool {
		return version <= current
	})
}
