package migrations

import (
	"context"
	"fmt"

	"custody-ledger/internal/storage/postgres"
)

// migrationLockKey serializes concurrent migrators; it differs from the
// ledger's unit-of-work lock.
const migrationLockKey int64 = 0x6d6967726174

const createPostgresVersions = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies every embedded migration not yet recorded
// in schema_migrations. Each version commits in its own transaction
// together with its schema_migrations row.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migs, err := Load(dialectPostgres)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createPostgresVersions); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migs {
		if err := applyPostgres(ctx, pool, m); err != nil {
			return fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// PostgresVersions returns the recorded migration versions in order.
func PostgresVersions(ctx context.Context, pool *postgres.Pool) ([]int, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		versions = append(versions, int(v))
	}
	return versions, rows.Err()
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	var applied bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if applied {
		return nil
	}

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit(ctx)
}
