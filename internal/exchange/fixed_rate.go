package exchange

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"custody-ledger/internal/domain"
)

// FixedRate is an exchange that converts at a constant rate: Numerator units
// of asset B for every Denominator units of asset A, less a fee. It honours
// the request's minimum output itself and ignores the price limit.
type FixedRate struct {
	Numerator   uint64
	Denominator uint64
	FeeBps      uint64 // fee taken from the output, in basis points
	MaxOut      uint64 // per-swap liquidity cap, zero for unlimited
	Pool        PoolConfig
}

// NewFixedRate creates a fixed-rate exchange trading wrapped/second.
func NewFixedRate(numerator, denominator uint64) *FixedRate {
	return &FixedRate{
		Numerator:   numerator,
		Denominator: denominator,
		Pool:        PoolConfig{TokenA: domain.AssetWrapped, TokenB: domain.AssetSecond},
	}
}

// PoolConfig reports the traded pair.
func (f *FixedRate) PoolConfig(context.Context) (PoolConfig, error) {
	return f.Pool, nil
}

// Quote returns the output for amountIn in the given direction.
func (f *FixedRate) Quote(amountIn uint64, aToB bool) (uint64, error) {
	if f.Numerator == 0 || f.Denominator == 0 {
		return 0, fmt.Errorf("%w: zero rate", ErrInvalidRequest)
	}
	if f.FeeBps > 10_000 {
		return 0, fmt.Errorf("%w: fee %d bps", ErrInvalidRequest, f.FeeBps)
	}

	mul, div := f.Numerator, f.Denominator
	if !aToB {
		mul, div = div, mul
	}

	out := new(uint256.Int).Mul(uint256.NewInt(amountIn), uint256.NewInt(mul))
	out.Div(out, uint256.NewInt(div))
	if f.FeeBps > 0 {
		out.Mul(out, uint256.NewInt(10_000-f.FeeBps))
		out.Div(out, uint256.NewInt(10_000))
	}
	if !out.IsUint64() {
		return 0, domain.ErrMathOverflow
	}
	return out.Uint64(), nil
}

// Swap debits the source account and credits the quoted output.
func (f *FixedRate) Swap(ctx context.Context, s Settlement, req SwapRequest) error {
	if req.AmountIn == 0 || !req.AmountSpecifiedIsInput {
		return fmt.Errorf("%w: only exact-input swaps with a positive amount", ErrInvalidRequest)
	}

	out, err := f.Quote(req.AmountIn, req.AToB)
	if err != nil {
		return err
	}
	if f.MaxOut > 0 && out > f.MaxOut {
		return fmt.Errorf("%w: output %d exceeds cap %d", ErrInsufficientLiquidity, out, f.MaxOut)
	}
	if out < req.MinimumAmountOut {
		return fmt.Errorf("%w: %d < %d", ErrMinimumOutput, out, req.MinimumAmountOut)
	}

	src, dst := req.Assets(f.Pool)
	if err := s.Debit(ctx, req.SourceAccount, src, req.AmountIn); err != nil {
		return fmt.Errorf("take input: %w", err)
	}
	if err := s.Credit(ctx, req.DestinationAccount, dst, out); err != nil {
		return fmt.Errorf("pay output: %w", err)
	}
	return nil
}

var _ Exchange = (*FixedRate)(nil)
