package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"custody-ledger/internal/address"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// SwapResult reports a committed swap.
type SwapResult struct {
	Direction domain.Direction
	AmountIn  uint64
	Received  uint64
	Balance   *domain.UserTokenBalance
	// Price is the second asset per wrapped asset realized by this swap,
	// Q64.64. Zero when nothing was received.
	Price uint256.Int
}

// UserSwap converts amountIn of owner's wrapped balance into the second
// asset through the exchange. The swap commits only if at least
// minimumAmountOut arrives in custody account B.
//
// Wrapped balance is never topped up from native balance here: callers
// must Wrap first.
func (e *Engine) UserSwap(ctx context.Context, caller auth.Caller, owner address.Address, amountIn, minimumAmountOut uint64) (*SwapResult, error) {
	return e.swap(ctx, caller, owner, amountIn, minimumAmountOut, domain.AToB)
}

// UserSwapReverse converts amountIn of owner's second-asset balance back
// into wrapped balance, with the same gates as UserSwap.
func (e *Engine) UserSwapReverse(ctx context.Context, caller auth.Caller, owner address.Address, amountIn, minimumAmountOut uint64) (*SwapResult, error) {
	return e.swap(ctx, caller, owner, amountIn, minimumAmountOut, domain.BToA)
}

func (e *Engine) swap(ctx context.Context, caller auth.Caller, owner address.Address, amountIn, minOut uint64, dir domain.Direction) (*SwapResult, error) {
	op := domain.OpUserSwap
	if dir == domain.BToA {
		op = domain.OpUserSwapReverse
	}

	var res *SwapResult
	_, err := e.update(ctx, op, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner, act.AmountIn = owner, amountIn

		// 1. owner authorization
		if err := authorize(caller, owner); err != nil {
			return err
		}

		// 2. both per-owner records must exist
		if _, _, err := e.userLedger(ctx, tx, owner); err != nil {
			return notInitializedAsTokenAccount(err)
		}
		balAddr, bal, err := e.userTokenBalance(ctx, tx, owner)
		if err != nil {
			return err
		}
		custody, err := e.custody(ctx, tx)
		if err != nil {
			return err
		}

		// 3. amount and source balance
		if err := requireAmount(amountIn); err != nil {
			return err
		}
		srcAsset, dstAsset := dir.Source(), dir.Destination()
		srcAcct, dstAcct := e.custodyAccount(srcAsset), e.custodyAccount(dstAsset)
		if amountIn > bal.Balance(srcAsset) {
			return fmt.Errorf("%w: %s balance %d, requested %d",
				domain.ErrInsufficientUserBalance, srcAsset, bal.Balance(srcAsset), amountIn)
		}
		srcBefore, err := tx.Balance(ctx, srcAcct, srcAsset)
		if err != nil {
			return err
		}
		if srcBefore < amountIn {
			if srcAsset == domain.AssetWrapped {
				return fmt.Errorf("%w: custody account A holds %d", domain.ErrInsufficientWrapped, srcBefore)
			}
			return fmt.Errorf("%w: custody account B holds %d", domain.ErrInsufficientFunds, srcBefore)
		}

		if err := e.checkPool(ctx); err != nil {
			return err
		}

		// 4. destination balance before
		dstBefore, err := tx.Balance(ctx, dstAcct, dstAsset)
		if err != nil {
			return err
		}

		// 5. exchange call, inside this unit of work
		req := exchange.SwapRequest{
			AmountIn:               amountIn,
			MinimumAmountOut:       minOut,
			SqrtPriceLimit:         exchange.NoPriceLimit(dir == domain.AToB),
			AmountSpecifiedIsInput: true,
			AToB:                   dir == domain.AToB,
			SourceAccount:          srcAcct,
			DestinationAccount:     dstAcct,
		}
		settle := &custodySettlement{tx: tx, accounts: map[address.Address]domain.Asset{
			srcAcct: srcAsset,
			dstAcct: dstAsset,
		}}
		start := e.now()
		err = e.exchange.Swap(ctx, settle, req)
		observability.RecordExchangeCall("swap", e.now().Sub(start).Seconds(), err)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSwapFailed, err)
		}

		// 6. reconcile realized balances
		srcAfter, err := tx.Balance(ctx, srcAcct, srcAsset)
		if err != nil {
			return err
		}
		if srcAfter > srcBefore || srcBefore-srcAfter != amountIn {
			return fmt.Errorf("%w: source custody moved from %d to %d, expected a debit of %d",
				domain.ErrSwapFailed, srcBefore, srcAfter, amountIn)
		}
		dstAfter, err := tx.Balance(ctx, dstAcct, dstAsset)
		if err != nil {
			return err
		}
		if dstAfter < dstBefore {
			return fmt.Errorf("%w: destination balance decreased", domain.ErrSwapFailed)
		}
		received := dstAfter - dstBefore
		act.AmountOut = received
		if received < minOut {
			return fmt.Errorf("%w: received %d, minimum %d", domain.ErrSlippageExceeded, received, minOut)
		}

		// 7. bookkeeping
		if err := debitToken(bal, custody, srcAsset, amountIn); err != nil {
			return err
		}
		if err := creditToken(bal, custody, dstAsset, received); err != nil {
			return err
		}
		if bal.TotalSwapped, err = domain.CheckedAdd(bal.TotalSwapped, amountIn); err != nil {
			return err
		}
		bal.LastSwapTimestamp = act.Timestamp

		stats, err := tx.GetSwapState(ctx, e.swapState.Address)
		if err != nil {
			return notFound(err, domain.ErrNotInitialized)
		}
		if dir == domain.AToB {
			if stats.TotalASwapped, err = domain.CheckedAdd(stats.TotalASwapped, amountIn); err != nil {
				return err
			}
			if stats.TotalBReceived, err = domain.CheckedAdd(stats.TotalBReceived, received); err != nil {
				return err
			}
		}
		if stats.SwapCount, err = domain.CheckedAdd(stats.SwapCount, 1); err != nil {
			return err
		}

		res = &SwapResult{Direction: dir, AmountIn: amountIn, Received: received, Balance: bal}
		if received > 0 {
			if dir == domain.AToB {
				res.Price = q64(received, amountIn)
			} else {
				res.Price = q64(amountIn, received)
			}
			stats.LastPrice = res.Price
		}

		return putAll(
			func() error { return tx.PutUserTokenBalance(ctx, balAddr, bal) },
			func() error { return tx.PutTokenCustody(ctx, e.tokenCustody.Address, custody) },
			func() error { return tx.PutSwapState(ctx, e.swapState.Address, stats) },
		)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkPool validates the exchange's pair once and caches success.
func (e *Engine) checkPool(ctx context.Context) error {
	if e.exchange == nil {
		return fmt.Errorf("%w: no exchange configured", domain.ErrSwapFailed)
	}

	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	if e.poolValid {
		return nil
	}

	start := e.now()
	cfg, err := e.exchange.PoolConfig(ctx)
	observability.RecordExchangeCall("pool_config", e.now().Sub(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSwapFailed, err)
	}
	if err := cfg.Validate(domain.AssetWrapped, domain.AssetSecond); err != nil {
		return err
	}
	e.poolValid = true
	return nil
}

func (e *Engine) custodyAccount(asset domain.Asset) address.Address {
	if asset == domain.AssetSecond {
		return e.custodyB.Address
	}
	return e.custodyA.Address
}

// notInitializedAsTokenAccount reports a missing ledger entry the way a
// missing token balance is reported, since a swap needs both.
func notInitializedAsTokenAccount(err error) error {
	if errors.Is(err, domain.ErrNotInitialized) {
		return fmt.Errorf("%w: no ledger entry", domain.ErrTokenAccountNotInitialized)
	}
	return err
}

func debitToken(bal *domain.UserTokenBalance, c *domain.TokenCustody, asset domain.Asset, amount uint64) error {
	var err error
	switch asset {
	case domain.AssetWrapped:
		if bal.BalanceA, err = domain.CheckedSub(bal.BalanceA, amount); err != nil {
			return err
		}
		c.TotalA, err = domain.CheckedSub(c.TotalA, amount)
	case domain.AssetSecond:
		if bal.BalanceB, err = domain.CheckedSub(bal.BalanceB, amount); err != nil {
			return err
		}
		c.TotalB, err = domain.CheckedSub(c.TotalB, amount)
	default:
		err = fmt.Errorf("%w: %s is not a token asset", domain.ErrInvalidAccount, asset)
	}
	return err
}

func creditToken(bal *domain.UserTokenBalance, c *domain.TokenCustody, asset domain.Asset, amount uint64) error {
	var err error
	switch asset {
	case domain.AssetWrapped:
		if bal.BalanceA, err = domain.CheckedAdd(bal.BalanceA, amount); err != nil {
			return err
		}
		c.TotalA, err = domain.CheckedAdd(c.TotalA, amount)
	case domain.AssetSecond:
		if bal.BalanceB, err = domain.CheckedAdd(bal.BalanceB, amount); err != nil {
			return err
		}
		c.TotalB, err = domain.CheckedAdd(c.TotalB, amount)
	default:
		err = fmt.Errorf("%w: %s is not a token asset", domain.ErrInvalidAccount, asset)
	}
	return err
}

// q64 returns num/den as Q64.64 fixed point.
func q64(num, den uint64) uint256.Int {
	p := new(uint256.Int).Lsh(uint256.NewInt(num), 64)
	p.Div(p, uint256.NewInt(den))
	return *p
}

// custodySettlement exposes the swap's two custody accounts to the
// exchange. Any other account or asset is refused.
type custodySettlement struct {
	tx       storage.Tx
	accounts map[address.Address]domain.Asset
}

func (s *custodySettlement) check(addr address.Address, asset domain.Asset) error {
	if want, ok := s.accounts[addr]; !ok || want != asset {
		return fmt.Errorf("%w: %s/%s is not a custody account of this swap", domain.ErrUnauthorized, addr, asset)
	}
	return nil
}

func (s *custodySettlement) Balance(ctx context.Context, addr address.Address, asset domain.Asset) (uint64, error) {
	if err := s.check(addr, asset); err != nil {
		return 0, err
	}
	return s.tx.Balance(ctx, addr, asset)
}

func (s *custodySettlement) Debit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := s.check(addr, asset); err != nil {
		return err
	}
	return s.tx.Debit(ctx, addr, asset, amount)
}

func (s *custodySettlement) Credit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := s.check(addr, asset); err != nil {
		return err
	}
	return s.tx.Credit(ctx, addr, asset, amount)
}
