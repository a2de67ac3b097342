// Package exchange defines the external exchange entry point consumed by the
// swap engine, together with the request wire format and adapters.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
)

// Errors reported by exchanges. The ledger surfaces any exchange error as
// domain.ErrSwapFailed.
var (
	ErrMinimumOutput         = errors.New("exchange: output below minimum")
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
	ErrInvalidRequest        = errors.New("exchange: invalid request")
)

// Sqrt-price bounds of a concentrated-liquidity pool, Q64.64. Passing the
// bound in the swap direction means "no price limit".
var (
	MinSqrtPrice = uint256.NewInt(4295048016)
	MaxSqrtPrice = uint256.MustFromDecimal("79226673515401279992447579055")
)

// NoPriceLimit returns the price bound that never constrains a swap in the
// given direction.
func NoPriceLimit(aToB bool) uint256.Int {
	if aToB {
		return *MinSqrtPrice
	}
	return *MaxSqrtPrice
}

// PoolConfig describes the asset pair an exchange pool trades.
type PoolConfig struct {
	TokenA domain.Asset `json:"token_a"`
	TokenB domain.Asset `json:"token_b"`
}

// Validate checks that the pool trades exactly (a, b).
func (c PoolConfig) Validate(a, b domain.Asset) error {
	if c.TokenA != a || c.TokenB != b {
		return fmt.Errorf("%w: pool trades %s/%s, want %s/%s",
			domain.ErrInvalidPoolConfiguration, c.TokenA, c.TokenB, a, b)
	}
	return nil
}

// SwapRequest is the swap entry point's parameter set.
type SwapRequest struct {
	AmountIn               uint64
	MinimumAmountOut       uint64
	SqrtPriceLimit         uint256.Int
	AmountSpecifiedIsInput bool
	AToB                   bool

	// Custody accounts debited and credited by the exchange.
	SourceAccount      address.Address
	DestinationAccount address.Address
}

// Settlement is the view of the caller's custody accounts an exchange may
// act on during a swap. All changes belong to the caller's unit of work.
type Settlement interface {
	Balance(ctx context.Context, addr address.Address, asset domain.Asset) (uint64, error)
	// Debit removes value the exchange takes in.
	Debit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error
	// Credit adds value the exchange pays out.
	Credit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error
}

// Exchange is an external swap program.
type Exchange interface {
	// PoolConfig reports the pair the exchange trades.
	PoolConfig(ctx context.Context) (PoolConfig, error)

	// Swap takes req.AmountIn of the source asset from req.SourceAccount and
	// realizes its output on req.DestinationAccount. The amount received is
	// observed by the caller from the destination balance delta.
	Swap(ctx context.Context, s Settlement, req SwapRequest) error
}

// Assets returns the (source, destination) assets of req for cfg.
func (r SwapRequest) Assets(cfg PoolConfig) (domain.Asset, domain.Asset) {
	if r.AToB {
		return cfg.TokenA, cfg.TokenB
	}
	return cfg.TokenB, cfg.TokenA
}
