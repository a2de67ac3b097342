package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/storage/migrations"
)

func TestApplyClickhouseMigrations_Rerun(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, migrations.ApplyClickhouseMigrations(ctx, conn))

	versions, err := migrations.ClickhouseVersions(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)

	var rows uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM schema_migrations").Scan(&rows))
	assert.Equal(t, uint64(1), rows)
}
