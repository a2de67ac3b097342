package ledger

import (
	"context"
	"errors"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// GetUserBalance returns owner's current native balance.
func (e *Engine) GetUserBalance(ctx context.Context, owner address.Address) (uint64, error) {
	entry, err := e.GetUserLedger(ctx, owner)
	if err != nil {
		return 0, err
	}
	return entry.CurrentBalance, nil
}

// GetUserLedger returns owner's full ledger entry.
func (e *Engine) GetUserLedger(ctx context.Context, owner address.Address) (*domain.UserLedgerEntry, error) {
	var entry *domain.UserLedgerEntry
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		_, entry, err = e.userLedger(ctx, tx, owner)
		return err
	})
	return entry, err
}

// GetVaultStats returns the global bookkeeping total and the native value
// actually held by the custody vault.
func (e *Engine) GetVaultStats(ctx context.Context) (domain.VaultStats, error) {
	var stats domain.VaultStats
	err := e.view(ctx, func(tx storage.Tx) error {
		global, err := e.globalLedger(ctx, tx)
		if err != nil {
			return err
		}
		held, err := tx.Balance(ctx, e.vault.Address, domain.AssetNative)
		if err != nil {
			return err
		}
		stats = domain.VaultStats{TotalDeposited: global.TotalDeposited, VaultBalance: held}
		return nil
	})
	return stats, err
}

// GetGlobalLedger returns the global ledger record.
func (e *Engine) GetGlobalLedger(ctx context.Context) (*domain.GlobalLedger, error) {
	var g *domain.GlobalLedger
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		g, err = e.globalLedger(ctx, tx)
		return err
	})
	return g, err
}

// GetUserTokenBalance returns owner's token balance.
func (e *Engine) GetUserTokenBalance(ctx context.Context, owner address.Address) (*domain.UserTokenBalance, error) {
	var bal *domain.UserTokenBalance
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		_, bal, err = e.userTokenBalance(ctx, tx, owner)
		return err
	})
	return bal, err
}

// GetTokenCustody returns the token custody record.
func (e *Engine) GetTokenCustody(ctx context.Context) (*domain.TokenCustody, error) {
	var c *domain.TokenCustody
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		c, err = e.custody(ctx, tx)
		return err
	})
	return c, err
}

// GetSwapState returns the aggregate swap statistics.
func (e *Engine) GetSwapState(ctx context.Context) (*domain.SwapState, error) {
	var s *domain.SwapState
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		s, err = tx.GetSwapState(ctx, e.swapState.Address)
		return notFound(err, domain.ErrNotInitialized)
	})
	return s, err
}

// Balance returns the value of asset held at addr outside the ledger's
// bookkeeping, such as a depositor's own account.
func (e *Engine) Balance(ctx context.Context, addr address.Address, asset domain.Asset) (uint64, error) {
	var v uint64
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		v, err = tx.Balance(ctx, addr, asset)
		return err
	})
	return v, err
}

// AssetAudit compares the value held in a custody account with the
// bookkeeping total and the sum of per-owner balances.
type AssetAudit struct {
	Held     uint64 `json:"held"`
	Recorded uint64 `json:"recorded"`
	Sum      uint64 `json:"sum"`
}

// Balanced reports whether all three figures agree.
func (a AssetAudit) Balanced() bool {
	return a.Held == a.Recorded && a.Recorded == a.Sum
}

// AuditReport is a full custody invariant check.
type AuditReport struct {
	Native  AssetAudit `json:"native"`
	Wrapped AssetAudit `json:"wrapped"`
	Second  AssetAudit `json:"second"`
	// Entries whose current balance differs from deposits minus withdrawals.
	Inconsistent []address.Address `json:"inconsistent,omitempty"`
}

// Balanced reports whether every invariant holds.
func (r *AuditReport) Balanced() bool {
	return r.Native.Balanced() && r.Wrapped.Balanced() && r.Second.Balanced() && len(r.Inconsistent) == 0
}

// Audit checks the custody invariants against a consistent snapshot and
// publishes the result as metrics.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	r := &AuditReport{}
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		switch global, gerr := tx.GetGlobalLedger(ctx, e.ledger.Address); {
		case gerr == nil:
			r.Native.Recorded = global.TotalDeposited
		case !errors.Is(gerr, storage.ErrNotFound):
			return gerr
		}
		if r.Native.Held, err = tx.Balance(ctx, e.vault.Address, domain.AssetNative); err != nil {
			return err
		}

		entries, err := tx.ListUserLedgers(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if r.Native.Sum, err = domain.CheckedAdd(r.Native.Sum, entry.CurrentBalance); err != nil {
				return err
			}
			if entry.TotalWithdrawn > entry.TotalDeposited ||
				entry.CurrentBalance != entry.TotalDeposited-entry.TotalWithdrawn {
				r.Inconsistent = append(r.Inconsistent, entry.Owner)
			}
		}

		switch custody, cerr := tx.GetTokenCustody(ctx, e.tokenCustody.Address); {
		case cerr == nil:
			r.Wrapped.Recorded, r.Second.Recorded = custody.TotalA, custody.TotalB
		case !errors.Is(cerr, storage.ErrNotFound):
			return cerr
		}
		if r.Wrapped.Held, err = tx.Balance(ctx, e.custodyA.Address, domain.AssetWrapped); err != nil {
			return err
		}
		if r.Second.Held, err = tx.Balance(ctx, e.custodyB.Address, domain.AssetSecond); err != nil {
			return err
		}

		balances, err := tx.ListUserTokenBalances(ctx)
		if err != nil {
			return err
		}
		for _, b := range balances {
			if r.Wrapped.Sum, err = domain.CheckedAdd(r.Wrapped.Sum, b.BalanceA); err != nil {
				return err
			}
			if r.Second.Sum, err = domain.CheckedAdd(r.Second.Sum, b.BalanceB); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.SetCustodyBalanced(string(domain.AssetNative), r.Native.Balanced() && len(r.Inconsistent) == 0)
	observability.SetCustodyBalanced(string(domain.AssetWrapped), r.Wrapped.Balanced())
	observability.SetCustodyBalanced(string(domain.AssetSecond), r.Second.Balanced())
	if !r.Balanced() {
		e.logger.Error("custody invariant violated",
			"native", r.Native, "wrapped", r.Wrapped, "second", r.Second,
			"inconsistent_entries", len(r.Inconsistent))
	}
	return r, nil
}

// Activity returns owner's journaled operations, newest first. Returns an
// empty list when no journal is configured.
func (e *Engine) Activity(ctx context.Context, owner address.Address, limit int) ([]*domain.Activity, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.ListByOwner(ctx, owner, limit)
}
