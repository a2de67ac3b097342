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

// authorize requires caller to be owner. The stored owner field of every
// record touched must be checked separately with checkOwner.
func authorize(caller auth.Caller, owner address.Address) error {
	if caller.IsZero() || owner.IsZero() {
		return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
	}
	if caller.Address() != owner {
		return fmt.Errorf("%w: %s cannot act for %s", domain.ErrUnauthorized, caller, owner)
	}
	return nil
}

func checkOwner(stored, owner address.Address) error {
	if stored != owner {
		return fmt.Errorf("%w: record owned by %s, not %s", domain.ErrOwnerMismatch, stored, owner)
	}
	return nil
}

// InitializeLedger creates the global ledger with administrator. The
// custody vault needs no allocation: it is a derived account whose balance
// starts at zero.
func (e *Engine) InitializeLedger(ctx context.Context, caller auth.Caller, administrator address.Address) (*domain.GlobalLedger, error) {
	var created *domain.GlobalLedger
	_, err := e.update(ctx, domain.OpInitializeLedger, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner = administrator
		if caller.IsZero() || administrator.IsZero() {
			return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
		}
		if caller.Address() != administrator {
			return fmt.Errorf("%w: administrator must sign its own initialization", domain.ErrUnauthorized)
		}

		switch _, err := tx.GetGlobalLedger(ctx, e.ledger.Address); {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		created = &domain.GlobalLedger{
			Administrator:  administrator,
			TotalDeposited: 0,
			Bump:           e.ledger.Bump,
		}
		return tx.PutGlobalLedger(ctx, e.ledger.Address, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// InitializeUserLedger creates an empty ledger entry for the caller.
func (e *Engine) InitializeUserLedger(ctx context.Context, caller auth.Caller) (*domain.UserLedgerEntry, error) {
	var entry *domain.UserLedgerEntry
	_, err := e.update(ctx, domain.OpInitializeUserLedger, func(tx storage.Tx, act *domain.Activity) error {
		owner := caller.Address()
		act.Owner = owner
		if caller.IsZero() {
			return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
		}
		if _, err := e.globalLedger(ctx, tx); err != nil {
			return err
		}

		addr, err := e.derive.UserLedger(owner)
		if err != nil {
			return err
		}
		switch _, err := tx.GetUserLedger(ctx, addr.Address); {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		entry = &domain.UserLedgerEntry{Owner: owner, LastActivity: act.Timestamp, Bump: addr.Bump}
		return tx.PutUserLedger(ctx, addr.Address, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Deposit moves amount of native value from the caller's own account into
// the custody vault and credits the caller's ledger entry, creating the
// entry on first use.
func (e *Engine) Deposit(ctx context.Context, caller auth.Caller, amount uint64) (*domain.UserLedgerEntry, error) {
	var entry *domain.UserLedgerEntry
	_, err := e.update(ctx, domain.OpDeposit, func(tx storage.Tx, act *domain.Activity) error {
		depositor := caller.Address()
		act.Owner, act.AmountIn = depositor, amount
		if caller.IsZero() {
			return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
		}
		if err := requireAmount(amount); err != nil {
			return err
		}

		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}

		addr, err := e.derive.UserLedger(depositor)
		if err != nil {
			return err
		}
		entry, err = tx.GetUserLedger(ctx, addr.Address)
		switch {
		case err == nil:
			if err := checkOwner(entry.Owner, depositor); err != nil {
				return err
			}
		case errors.Is(err, storage.ErrNotFound):
			entry = &domain.UserLedgerEntry{Owner: depositor, Bump: addr.Bump}
		default:
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

		if err := tx.Transfer(ctx, depositor, e.vault.Address, domain.AssetNative, amount); err != nil {
			return fmt.Errorf("deposit transfer: %w", err)
		}
		if err := tx.PutUserLedger(ctx, addr.Address, entry); err != nil {
			return err
		}
		return tx.PutGlobalLedger(ctx, e.ledger.Address, global)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Withdraw moves amount from the custody vault to recipient and debits
// owner's ledger entry. The caller must be owner, and owner must match the
// owner stored on the entry. A zero recipient means owner.
func (e *Engine) Withdraw(ctx context.Context, caller auth.Caller, owner address.Address, amount uint64, recipient address.Address) (*domain.UserLedgerEntry, error) {
	if recipient.IsZero() {
		recipient = owner
	}

	var entry *domain.UserLedgerEntry
	_, err := e.update(ctx, domain.OpWithdraw, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner, act.Recipient, act.AmountIn = owner, recipient, amount
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if err := requireAmount(amount); err != nil {
			return err
		}
		if e.isCustody(recipient) {
			return fmt.Errorf("%w: cannot withdraw into custody", domain.ErrInvalidAccount)
		}

		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}
		addr, err := e.derive.UserLedger(owner)
		if err != nil {
			return err
		}
		entry, err = tx.GetUserLedger(ctx, addr.Address)
		if err != nil {
			return notFound(err, domain.ErrNotInitialized)
		}
		if err := checkOwner(entry.Owner, owner); err != nil {
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
			return fmt.Errorf("%w: vault holds %d", domain.ErrInsufficientFunds, held)
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
		entry.LastActivity = act.Timestamp

		if err := tx.Transfer(ctx, e.vault.Address, recipient, domain.AssetNative, amount); err != nil {
			return fmt.Errorf("withdraw transfer: %w", err)
		}
		if err := tx.PutUserLedger(ctx, addr.Address, entry); err != nil {
			return err
		}
		return tx.PutGlobalLedger(ctx, e.ledger.Address, global)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Airdrop credits native value to an externally owned account. It funds
// test accounts and never touches custody.
func (e *Engine) Airdrop(ctx context.Context, to address.Address, amount uint64) error {
	_, err := e.update(ctx, domain.OpAirdrop, func(tx storage.Tx, act *domain.Activity) error {
		act.Owner, act.Recipient, act.AmountIn = to, to, amount
		if to.IsZero() {
			return fmt.Errorf("%w: missing recipient", domain.ErrInvalidAccount)
		}
		if err := requireAmount(amount); err != nil {
			return err
		}
		if e.isCustody(to) {
			return fmt.Errorf("%w: cannot airdrop into custody", domain.ErrUnauthorized)
		}
		return tx.Credit(ctx, to, domain.AssetNative, amount)
	})
	return err
}

func (e *Engine) isCustody(a address.Address) bool {
	return a == e.vault.Address || a == e.custodyA.Address || a == e.custodyB.Address
}

func (e *Engine) globalLedger(ctx context.Context, tx storage.Tx) (*domain.GlobalLedger, error) {
	g, err := tx.GetGlobalLedger(ctx, e.ledger.Address)
	if err != nil {
		return nil, notFound(err, domain.ErrNotInitialized)
	}
	return g, nil
}
