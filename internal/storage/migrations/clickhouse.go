package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "custody-ledger/internal/storage/clickhouse"
)

const createClickhouseVersions = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    UInt32,
    name       String,
    applied_at DateTime64(3) DEFAULT now64(3)
) ENGINE = MergeTree()
ORDER BY version`

// RunClickhouseMigrations creates the DSN's database if needed, applies
// pending migrations and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName))
	adminConn.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := ApplyClickhouseMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ApplyClickhouseMigrations applies the migrations missing from
// schema_migrations on an open connection. ClickHouse has no DDL
// transactions; a version is recorded only after all its statements ran.
func ApplyClickhouseMigrations(ctx context.Context, conn *chstore.Conn) error {
	migs, err := Load(dialectClickhouse)
	if err != nil {
		return err
	}
	if err := conn.Exec(ctx, createClickhouseVersions); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := ClickhouseVersions(ctx, conn)
	if err != nil {
		return err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migs {
		if done[m.Version] {
			continue
		}
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
			}
		}
		if err := conn.Exec(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", uint32(m.Version), m.Name,
		); err != nil {
			return fmt.Errorf("record migration %03d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// ClickhouseVersions returns the distinct recorded versions in order.
func ClickhouseVersions(ctx context.Context, conn *chstore.Conn) ([]int, error) {
	rows, err := conn.Query(ctx, "SELECT DISTINCT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		versions = append(versions, int(v))
	}
	return versions, rows.Err()
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	if strings.ContainsAny(db, "`/") {
		return "", fmt.Errorf("clickhouse dsn: invalid database name %q", db)
	}
	return db, nil
}
