package clickhouse_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
	"custody-ledger/internal/storage/clickhouse"
)

func testAddress(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

func TestActivityJournal_AppendAndList(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	j := clickhouse.NewActivityJournal(conn)

	alice, bob := testAddress(1), testAddress(2)

	deposit := domain.NewActivity(domain.OpDeposit, alice, 1_000, 0, 100)
	withdraw := domain.NewActivity(domain.OpWithdraw, alice, 400, 0, 200)
	withdraw.Recipient = bob
	swap := domain.NewActivity(domain.OpUserSwap, bob, 50, 45, 150)

	for _, a := range []*domain.Activity{deposit, withdraw, swap} {
		require.NoError(t, j.Append(ctx, a))
	}

	got, err := j.ListByOwner(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, withdraw.ID, got[0].ID, "newest first")
	assert.Equal(t, bob, got[0].Recipient)
	assert.Equal(t, domain.OpWithdraw, got[0].Op)
	assert.Equal(t, uint64(400), got[0].AmountIn)
	assert.Equal(t, deposit.ID, got[1].ID)
	assert.True(t, got[1].Recipient.IsZero())

	recent, err := j.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, withdraw.ID, recent[0].ID)
	assert.Equal(t, swap.ID, recent[1].ID)
	assert.Equal(t, uint64(45), recent[1].AmountOut)
}

func TestActivityJournal_RejectsDuplicateID(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	j := clickhouse.NewActivityJournal(conn)

	a := domain.NewActivity(domain.OpDeposit, testAddress(1), 10, 0, 1)
	require.NoError(t, j.Append(ctx, a))

	err := j.Append(ctx, a)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestActivityJournal_RejectsMissingID(t *testing.T) {
	j := clickhouse.NewActivityJournal(nil)

	err := j.Append(context.Background(), &domain.Activity{ID: uuid.Nil})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
