package domain

import (
	"github.com/holiman/uint256"

	"custody-ledger/internal/address"
)

// TokenCustody is the singleton record of the two swap-side custody accounts.
type TokenCustody struct {
	Administrator   address.Address
	CustodyAccountA address.Address // holds AssetWrapped
	CustodyAccountB address.Address // holds AssetSecond
	TotalA          uint64
	TotalB          uint64
	Bump            uint8
}

// UserTokenBalance is an owner's shadow accounting of the swap-side assets.
type UserTokenBalance struct {
	Owner             address.Address
	BalanceA          uint64
	BalanceB          uint64
	LastSwapTimestamp int64 // Unix seconds
	TotalSwapped      uint64
	Bump              uint8
}

// Balance returns the owner's balance of a swap-side asset.
func (b *UserTokenBalance) Balance(asset Asset) uint64 {
	switch asset {
	case AssetWrapped:
		return b.BalanceA
	case AssetSecond:
		return b.BalanceB
	default:
		return 0
	}
}

// SwapState holds advisory aggregate swap statistics. It is never consulted
// for authorization.
type SwapState struct {
	TotalASwapped  uint64
	TotalBReceived uint64
	LastPrice      uint256.Int // received/amountIn as Q64.64 fixed point
	SwapCount      uint64
}
