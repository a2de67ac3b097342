package storage

import (
	"context"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
)

// Store executes units of work against ledger state.
type Store interface {
	// Update runs fn as one atomic unit: every mutation made through tx
	// commits together when fn returns nil, and none commit otherwise.
	// Updates touching shared records are serialized.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the state visible to one unit of work. Records are keyed by their
// derived address. Getters return ErrNotFound for absent records and a copy
// the caller may modify; changes take effect only through the Put methods.
type Tx interface {
	GetGlobalLedger(ctx context.Context, addr address.Address) (*domain.GlobalLedger, error)
	PutGlobalLedger(ctx context.Context, addr address.Address, l *domain.GlobalLedger) error

	GetUserLedger(ctx context.Context, addr address.Address) (*domain.UserLedgerEntry, error)
	PutUserLedger(ctx context.Context, addr address.Address, e *domain.UserLedgerEntry) error
	// ListUserLedgers returns all entries ordered by owner.
	ListUserLedgers(ctx context.Context) ([]*domain.UserLedgerEntry, error)

	GetTokenCustody(ctx context.Context, addr address.Address) (*domain.TokenCustody, error)
	PutTokenCustody(ctx context.Context, addr address.Address, c *domain.TokenCustody) error

	GetUserTokenBalance(ctx context.Context, addr address.Address) (*domain.UserTokenBalance, error)
	PutUserTokenBalance(ctx context.Context, addr address.Address, b *domain.UserTokenBalance) error
	// ListUserTokenBalances returns all token balances ordered by owner.
	ListUserTokenBalances(ctx context.Context) ([]*domain.UserTokenBalance, error)

	GetSwapState(ctx context.Context, addr address.Address) (*domain.SwapState, error)
	PutSwapState(ctx context.Context, addr address.Address, s *domain.SwapState) error

	// Balance returns the value of asset held at addr (zero if never funded).
	Balance(ctx context.Context, addr address.Address, asset domain.Asset) (uint64, error)
	// Transfer moves value between two accounts. It fails with
	// domain.ErrInsufficientFunds when from holds less than amount.
	Transfer(ctx context.Context, from, to address.Address, asset domain.Asset, amount uint64) error
	// Credit adds value entering the ledger's accounts from outside.
	Credit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error
	// Debit removes value leaving the ledger's accounts.
	Debit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error
}

// ActivityJournal stores the append-only record of committed operations.
type ActivityJournal interface {
	// Append adds an activity. Returns ErrDuplicateKey if the ID exists.
	Append(ctx context.Context, a *domain.Activity) error

	// ListByOwner returns an owner's activities, newest first, at most limit.
	ListByOwner(ctx context.Context, owner address.Address, limit int) ([]*domain.Activity, error)

	// ListRecent returns the newest activities across all owners.
	ListRecent(ctx context.Context, limit int) ([]*domain.Activity, error)
}
