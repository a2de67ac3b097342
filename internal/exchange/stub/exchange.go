// Package stub provides a scriptable exchange for tests.
package stub

import (
	"context"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
)

// Exchange implements exchange.Exchange with a fixed, caller-chosen output.
// Unlike a real pool it does not enforce the request's minimum output, so
// callers can exercise their own slippage checks.
type Exchange struct {
	mu sync.Mutex

	// Out is credited to the destination account on every swap.
	Out uint64
	// Err, when set, is returned before any account is touched.
	Err error
	// FailAfterDebit makes Swap fail after taking the input.
	FailAfterDebit error
	// Pool is reported by PoolConfig.
	Pool exchange.PoolConfig
	// PoolErr is returned by PoolConfig when set.
	PoolErr error

	Requests []exchange.SwapRequest
}

// NewExchange returns a stub trading wrapped/second that pays out.
func NewExchange(out uint64) *Exchange {
	return &Exchange{
		Out:  out,
		Pool: exchange.PoolConfig{TokenA: domain.AssetWrapped, TokenB: domain.AssetSecond},
	}
}

// PoolConfig returns the configured pool.
func (e *Exchange) PoolConfig(context.Context) (exchange.PoolConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Pool, e.PoolErr
}

// Swap records req, takes the input and credits Out.
func (e *Exchange) Swap(ctx context.Context, s exchange.Settlement, req exchange.SwapRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Requests = append(e.Requests, req)
	if e.Err != nil {
		return e.Err
	}

	src, dst := req.Assets(e.Pool)
	if err := s.Debit(ctx, req.SourceAccount, src, req.AmountIn); err != nil {
		return err
	}
	if e.FailAfterDebit != nil {
		return e.FailAfterDebit
	}
	return s.Credit(ctx, req.DestinationAccount, dst, e.Out)
}

// Calls returns the number of Swap invocations.
func (e *Exchange) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Requests)
}

var _ exchange.Exchange = (*Exchange)(nil)
