// Package ledger implements the custody ledger: native deposits and
// withdrawals, wrap/unwrap into the token-accounted form, slippage-protected
// swaps through an external exchange, and second-asset withdrawal.
//
// Every mutating operation runs as one storage unit of work. Either all of
// its record updates and value movements commit, or none do.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// Options configures an Engine.
type Options struct {
	Store     storage.Store
	Exchange  exchange.Exchange       // optional; swaps fail without one
	Journal   storage.ActivityJournal // optional
	ProgramID address.Address
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Engine executes ledger operations.
type Engine struct {
	store    storage.Store
	exchange exchange.Exchange
	journal  storage.ActivityJournal
	derive   address.Deriver
	logger   *slog.Logger
	now      func() time.Time

	ledger       address.Derived
	vault        address.Derived
	tokenCustody address.Derived
	swapState    address.Derived
	custodyA     address.Derived
	custodyB     address.Derived

	poolMu    sync.Mutex
	poolValid bool
}

// New creates an Engine, deriving the singleton addresses for ProgramID.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if opts.ProgramID.IsZero() {
		return nil, errors.New("ledger: program id is required")
	}

	e := &Engine{
		store:    opts.Store,
		exchange: opts.Exchange,
		journal:  opts.Journal,
		derive:   address.NewDeriver(opts.ProgramID),
		logger:   opts.Logger,
		now:      opts.Clock,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}

	var err error
	if e.ledger, err = e.derive.Ledger(); err != nil {
		return nil, fmt.Errorf("derive ledger: %w", err)
	}
	if e.vault, err = e.derive.VaultCustody(); err != nil {
		return nil, fmt.Errorf("derive vault custody: %w", err)
	}
	if e.tokenCustody, err = e.derive.TokenCustody(); err != nil {
		return nil, fmt.Errorf("derive token custody: %w", err)
	}
	if e.swapState, err = e.derive.SwapState(); err != nil {
		return nil, fmt.Errorf("derive swap state: %w", err)
	}
	if e.custodyA, err = e.derive.TokenAccount(e.vault.Address, string(domain.AssetWrapped)); err != nil {
		return nil, fmt.Errorf("derive custody account A: %w", err)
	}
	if e.custodyB, err = e.derive.TokenAccount(e.vault.Address, string(domain.AssetSecond)); err != nil {
		return nil, fmt.Errorf("derive custody account B: %w", err)
	}
	return e, nil
}

// Addresses are the derived singleton addresses of a deployment.
type Addresses struct {
	Ledger          address.Address `json:"ledger"`
	VaultCustody    address.Address `json:"vault_custody"`
	TokenCustody    address.Address `json:"token_custody"`
	SwapState       address.Address `json:"swap_state"`
	CustodyAccountA address.Address `json:"custody_account_a"`
	CustodyAccountB address.Address `json:"custody_account_b"`
}

// Addresses returns the engine's singleton addresses.
func (e *Engine) Addresses() Addresses {
	return Addresses{
		Ledger:          e.ledger.Address,
		VaultCustody:    e.vault.Address,
		TokenCustody:    e.tokenCustody.Address,
		SwapState:       e.swapState.Address,
		CustodyAccountA: e.custodyA.Address,
		CustodyAccountB: e.custodyB.Address,
	}
}

// update runs fn as one unit of work and then records the outcome. act is
// filled in by fn and journaled only when the unit commits.
func (e *Engine) update(ctx context.Context, op domain.Op, fn func(tx storage.Tx, act *domain.Activity) error) (*domain.Activity, error) {
	start := e.now()
	act := &domain.Activity{Op: op, Timestamp: start.Unix()}

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		return fn(tx, act)
	})
	e.finish(ctx, act, err, start)
	if err != nil {
		return nil, err
	}
	return act, nil
}

// finish records metrics, the log line and the journal entry for an
// operation. Journal failures never fail the committed operation.
func (e *Engine) finish(ctx context.Context, act *domain.Activity, err error, start time.Time) {
	elapsed := e.now().Sub(start).Seconds()
	if err != nil {
		kind := domain.KindOf(err)
		observability.RecordOperation(string(act.Op), string(kind), elapsed, 0)
		if errors.Is(err, domain.ErrSlippageExceeded) {
			observability.RecordSlippageRejected()
		}
		e.logger.Warn("operation rejected",
			"op", act.Op,
			"owner", act.Owner.String(),
			"amount", act.AmountIn,
			"kind", kind,
			"error", err)
		return
	}

	observability.RecordOperation(string(act.Op), "ok", elapsed, act.Timestamp)
	e.logger.Info("operation committed",
		"op", act.Op,
		"owner", act.Owner.String(),
		"amount", act.AmountIn,
		"amount_out", act.AmountOut)

	rec := domain.NewActivity(act.Op, act.Owner, act.AmountIn, act.AmountOut, act.Timestamp)
	rec.Recipient = act.Recipient
	act.ID = rec.ID
	if e.journal == nil {
		return
	}
	if jerr := e.journal.Append(ctx, rec); jerr != nil {
		observability.RecordJournalError()
		e.logger.Error("journal append failed", "op", act.Op, "id", rec.ID, "error", jerr)
	}
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(ctx context.Context, fn func(tx storage.Tx) error) error {
	return e.store.View(ctx, fn)
}

// notFound maps storage.ErrNotFound to target, leaving other errors as is.
func notFound(err error, target error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return target
	}
	return err
}

func requireAmount(amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
