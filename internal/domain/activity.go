package domain

import (
	"github.com/google/uuid"

	"custody-ledger/internal/address"
)

// Op names a ledger operation.
type Op string

// Ledger operations.
const (
	OpInitializeLedger           Op = "initialize_ledger"
	OpInitializeUserLedger       Op = "initialize_user_ledger"
	OpDeposit                    Op = "deposit"
	OpWithdraw                   Op = "withdraw"
	OpInitializeTokenCustody     Op = "initialize_token_custody"
	OpInitializeUserTokenBalance Op = "initialize_user_token_balance"
	OpWrap                       Op = "wrap"
	OpUnwrap                     Op = "unwrap"
	OpUserSwap                   Op = "user_swap"
	OpUserSwapReverse            Op = "user_swap_reverse"
	OpWithdrawSecondAsset        Op = "withdraw_second_asset"
	OpAirdrop                    Op = "airdrop"
)

// Activity is an append-only record of a committed operation. It is
// advisory and never read for authorization.
type Activity struct {
	ID        uuid.UUID
	Op        Op
	Owner     address.Address
	Recipient address.Address
	AmountIn  uint64
	AmountOut uint64
	Timestamp int64 // Unix seconds
}

// NewActivity creates an Activity with a fresh ID.
func NewActivity(op Op, owner address.Address, amountIn, amountOut uint64, ts int64) *Activity {
	return &Activity{
		ID:        uuid.New(),
		Op:        op,
		Owner:     owner,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Timestamp: ts,
	}
}
