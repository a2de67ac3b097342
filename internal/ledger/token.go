package ledger

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/address"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// InitializeTokenCustody creates the token custody record, its two custody
// accounts and the swap statistics. Only the ledger administrator may call it.
func (e *Engine) InitializeTokenCustody(ctx context.Context, caller auth.Caller) (*domain.TokenCustody, error) {
	var custody *domain.TokenCustody
	_, err := e.update(ctx, domain.OpInitializeTokenCustody, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner = caller.Address()

		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}
		if err := authorize(caller, global.Administrator); err != nil {
			return err
		}

		switch _, err := tx.GetTokenCustody(ctx, e.tokenCustody.Address); {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		custody = &domain.TokenCustody{
			Administrator:   global.Administrator,
			CustodyAccountA: e.custodyA.Address,
			CustodyAccountB: e.custodyB.Address,
			Bump:            e.tokenCustody.Bump,
		}
		if err := tx.PutTokenCustody(ctx, e.tokenCustody.Address, custody); err != nil {
			return err
		}
		return tx.PutSwapState(ctx, e.swapState.Address, &domain.SwapState{})
	})
	if err != nil {
		return nil, err
	}
	return custody, nil
}

// InitializeUserTokenBalance creates an empty token balance for the caller.
func (e *Engine) InitializeUserTokenBalance(ctx context.Context, caller auth.Caller) (*domain.UserTokenBalance, error) {
	var bal *domain.UserTokenBalance
	_, err := e.update(ctx, domain.OpInitializeUserTokenBalance, func(tx storage.Tx, act *domain.Activity) error {
		owner := caller.Address()
		act.Owner = owner
		if caller.IsZero() {
			return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
		}
		if _, err := e.custody(ctx, tx); err != nil {
			return err
		}

		addr, err := e.derive.UserTokenBalance(owner)
		if err != nil {
			return err
		}
		switch _, err := tx.GetUserTokenBalance(ctx, addr.Address); {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		bal = &domain.UserTokenBalance{Owner: owner, Bump: addr.Bump}
		return tx.PutUserTokenBalance(ctx, addr.Address, bal)
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Wrap converts amount of the caller's native ledger balance into wrapped
// balance held in custody account A. Native value leaves the vault and the
// same amount appears in custody account A.
func (e *Engine) Wrap(ctx context.Context, caller auth.Caller, amount uint64) (*domain.UserTokenBalance, error) {
	var bal *domain.UserTokenBalance
	_, err := e.update(ctx, domain.OpWrap, func(tx storage.Tx, act *domain.Activity) error {
		owner := caller.Address()
		act.Owner, act.AmountIn, act.AmountOut = owner, amount, amount
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if err := requireAmount(amount); err != nil {
			return err
		}

		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}
		custody, err := e.custody(ctx, tx)
		if err != nil {
			return err
		}
		entryAddr, entry, err := e.userLedger(ctx, tx, owner)
		if err != nil {
			return err
		}
		balAddr, err := e.derive.UserTokenBalance(owner)
		if err != nil {
			return err
		}
		bal, err = tx.GetUserTokenBalance(ctx, balAddr.Address)
		switch {
		case err == nil:
			if err := checkOwner(bal.Owner, owner); err != nil {
				return err
			}
		case errors.Is(err, storage.ErrNotFound):
			bal = &domain.UserTokenBalance{Owner: owner, Bump: balAddr.Bump}
		default:
			return err
		}

		if amount > entry.CurrentBalance {
			return fmt.Errorf("%w: balance %d, requested %d", domain.ErrInsufficientUserBalance, entry.CurrentBalance, amount)
		}
		held, err := tx.Balance(ctx, e.vault.Address, domain.AssetNative)
		if err != nil {
			return err
		}
		if held < amount {
			return fmt.Errorf("%w: vault holds %d", domain.ErrInsufficientNativeBalance, held)
		}

		if entry.CurrentBalance, err = domain.CheckedSub(entry.CurrentBalance, amount); err != nil {
			return err
		}
		if entry.TotalWithdrawn, err = domain.CheckedAdd(entry.TotalWithdrawn, amount); err != nil {
			return err
		}
		if global.TotalDeposited, err = domain.CheckedSub(global.TotalDeposited, amount); err != nil {
			return err
		}
		if bal.BalanceA, err = domain.CheckedAdd(bal.BalanceA, amount); err != nil {
			return err
		}
		if custody.TotalA, err = domain.CheckedAdd(custody.TotalA, amount); err != nil {
			return err
		}
		entry.LastActivity = act.Timestamp

		if err := tx.Debit(ctx, e.vault.Address, domain.AssetNative, amount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWrapFailed, err)
		}
		if err := tx.Credit(ctx, e.custodyA.Address, domain.AssetWrapped, amount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWrapFailed, err)
		}

		return putAll(
			func() error { return tx.PutUserLedger(ctx, entryAddr, entry) },
			func() error { return tx.PutGlobalLedger(ctx, e.ledger.Address, global) },
			func() error { return tx.PutUserTokenBalance(ctx, balAddr.Address, bal) },
			func() error { return tx.PutTokenCustody(ctx, e.tokenCustody.Address, custody) },
		)
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Unwrap converts amount of the caller's wrapped balance back into native
// ledger balance. It is the exact inverse of Wrap.
func (e *Engine) Unwrap(ctx context.Context, caller auth.Caller, amount uint64) (*domain.UserLedgerEntry, error) {
	var entry *domain.UserLedgerEntry
	_, err := e.update(ctx, domain.OpUnwrap, func(tx storage.Tx, act *domain.Activity) error {
		owner := caller.Address()
		act.Owner, act.AmountIn, act.AmountOut = owner, amount, amount
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if err := requireAmount(amount); err != nil {
			return err
		}

		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}
		custody, err := e.custody(ctx, tx)
		if err != nil {
			return err
		}
		var entryAddr address.Address
		entryAddr, entry, err = e.userLedger(ctx, tx, owner)
		if err != nil {
			return err
		}
		balAddr, bal, err := e.userTokenBalance(ctx, tx, owner)
		if err != nil {
			return err
		}

		if amount > bal.BalanceA {
			return fmt.Errorf("%w: wrapped balance %d, requested %d", domain.ErrInsufficientUserBalance, bal.BalanceA, amount)
		}
		held, err := tx.Balance(ctx, e.custodyA.Address, domain.AssetWrapped)
		if err != nil {
			return err
		}
		if held < amount {
			return fmt.Errorf("%w: custody account A holds %d", domain.ErrInsufficientWrapped, held)
		}

		if bal.BalanceA, err = domain.CheckedSub(bal.BalanceA, amount); err != nil {
			return err
		}
		if custody.TotalA, err = domain.CheckedSub(custody.TotalA, amount); err != nil {
			return err
		}
		if entry.CurrentBalance, err = domain.CheckedAdd(entry.CurrentBalance, amount); err != nil {
			return err
		}
		if entry.TotalDeposited, err = domain.CheckedAdd(entry.TotalDeposited, amount); err != nil {
			return err
		}
		if global.TotalDeposited, err = domain.CheckedAdd(global.TotalDeposited, amount); err != nil {
			return err
		}
		entry.LastActivity = act.Timestamp

		if err := tx.Debit(ctx, e.custodyA.Address, domain.AssetWrapped, amount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrUnwrapFailed, err)
		}
		if err := tx.Credit(ctx, e.vault.Address, domain.AssetNative, amount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrUnwrapFailed, err)
		}

		return putAll(
			func() error { return tx.PutUserLedger(ctx, entryAddr, entry) },
			func() error { return tx.PutGlobalLedger(ctx, e.ledger.Address, global) },
			func() error { return tx.PutUserTokenBalance(ctx, balAddr, bal) },
			func() error { return tx.PutTokenCustody(ctx, e.tokenCustody.Address, custody) },
		)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// WithdrawSecondAsset moves amount of the second asset from custody account
// B to recipient's token account and debits owner's token balance. A zero
// recipient means owner.
func (e *Engine) WithdrawSecondAsset(ctx context.Context, caller auth.Caller, owner address.Address, amount uint64, recipient address.Address) (*domain.UserTokenBalance, error) {
	if recipient.IsZero() {
		recipient = owner
	}

	var bal *domain.UserTokenBalance
	_, err := e.update(ctx, domain.OpWithdrawSecondAsset, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner, act.Recipient, act.AmountIn = owner, recipient, amount
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if err := requireAmount(amount); err != nil {
			return err
		}
		dest, err := e.derive.TokenAccount(recipient, string(domain.AssetSecond))
		if err != nil {
			return err
		}
		if e.isCustody(recipient) || e.isCustody(dest.Address) {
			return fmt.Errorf("%w: cannot withdraw into custody", domain.ErrInvalidAccount)
		}

		custody, err := e.custody(ctx, tx)
		if err != nil {
			return err
		}
		var balAddr address.Address
		balAddr, bal, err = e.userTokenBalance(ctx, tx, owner)
		if err != nil {
			return err
		}

		if amount > bal.BalanceB {
			return fmt.Errorf("%w: second-asset balance %d, requested %d", domain.ErrInsufficientUserBalance, bal.BalanceB, amount)
		}
		held, err := tx.Balance(ctx, e.custodyB.Address, domain.AssetSecond)
		if err != nil {
			return err
		}
		if held < amount {
			return fmt.Errorf("%w: custody account B holds %d", domain.ErrInsufficientFunds, held)
		}

		if bal.BalanceB, err = domain.CheckedSub(bal.BalanceB, amount); err != nil {
			return err
		}
		if custody.TotalB, err = domain.CheckedSub(custody.TotalB, amount); err != nil {
			return err
		}

		if err := tx.Transfer(ctx, e.custodyB.Address, dest.Address, domain.AssetSecond, amount); err != nil {
			return fmt.Errorf("second-asset transfer: %w", err)
		}

		return putAll(
			func() error { return tx.PutUserTokenBalance(ctx, balAddr, bal) },
			func() error { return tx.PutTokenCustody(ctx, e.tokenCustody.Address, custody) },
		)
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (e *Engine) custody(ctx context.Context, tx storage.Tx) (*domain.TokenCustody, error) {
	c, err := tx.GetTokenCustody(ctx, e.tokenCustody.Address)
	if err != nil {
		return nil, notFound(err, domain.ErrNotInitialized)
	}
	return c, nil
}

// userLedger loads owner's ledger entry and checks its stored owner.
func (e *Engine) userLedger(ctx context.Context, tx storage.Tx, owner address.Address) (address.Address, *domain.UserLedgerEntry, error) {
	addr, err := e.derive.UserLedger(owner)
	if err != nil {
		return address.Address{}, nil, err
	}
	entry, err := tx.GetUserLedger(ctx, addr.Address)
	if err != nil {
		return address.Address{}, nil, notFound(err, domain.ErrNotInitialized)
	}
	if err := checkOwner(entry.Owner, owner); err != nil {
		return address.Address{}, nil, err
	}
	return addr.Address, entry, nil
}

// userTokenBalance loads owner's token balance and checks its stored owner.
func (e *Engine) userTokenBalance(ctx context.Context, tx storage.Tx, owner address.Address) (address.Address, *domain.UserTokenBalance, error) {
	addr, err := e.derive.UserTokenBalance(owner)
	if err != nil {
		return address.Address{}, nil, err
	}
	bal, err := tx.GetUserTokenBalance(ctx, addr.Address)
	if err != nil {
		return address.Address{}, nil, notFound(err, domain.ErrTokenAccountNotInitialized)
	}
	if err := checkOwner(bal.Owner, owner); err != nil {
		return address.Address{}, nil, err
	}
	return addr.Address, bal, nil
}

func putAll(puts ...func() error) error {
	for _, put := range puts {
		if err := put(); err != nil {
			return err
		}
	}
	return nil
}
