package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// ledgerLockKey is the advisory lock taken by every Update.
const ledgerLockKey int64 = 0x6c6564676572 // "ledger"

// LedgerStore is a PostgreSQL implementation of storage.Store.
// Each Update runs in its own transaction holding a transaction-scoped
// advisory lock, so units of work are serialized and roll back as a whole.
// u64 quantities are NUMERIC(20,0) columns exchanged as decimal text.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new PostgreSQL ledger store.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ storage.Store = (*LedgerStore)(nil)

// Update runs fn inside a read-write transaction.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "update", time.Since(start).Seconds(), dbError(err))
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn inside a read-only repeatable-read transaction.
func (s *LedgerStore) View(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "view", time.Since(start).Seconds(), dbError(err))
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(&ledgerTx{tx: tx, readOnly: true})
}

type ledgerTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *ledgerTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *ledgerTx) GetGlobalLedger(ctx context.Context, addr address.Address) (*domain.GlobalLedger, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT administrator, total_deposited::text, bump
		FROM global_ledger
		WHERE address = $1
	`, addr.String())

	var admin, total string
	var bump int16
	if err := row.Scan(&admin, &total, &bump); err != nil {
		return nil, mapScanError(err)
	}

	l := &domain.GlobalLedger{Bump: uint8(bump)}
	var err error
	if l.Administrator, err = address.Parse(admin); err != nil {
		return nil, err
	}
	if l.TotalDeposited, err = parseU64(total); err != nil {
		return nil, err
	}
	return l, nil
}

func (t *ledgerTx) PutGlobalLedger(ctx context.Context, addr address.Address, l *domain.GlobalLedger) error {
	if err := t.writable(); err != nil {
		return err
	}
	if l == nil {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO global_ledger (address, administrator, total_deposited, bump)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (address) DO UPDATE
		SET administrator = EXCLUDED.administrator,
		    total_deposited = EXCLUDED.total_deposited,
		    bump = EXCLUDED.bump
	`, addr.String(), l.Administrator.String(), formatU64(l.TotalDeposited), int16(l.Bump))
	return mapWriteError(err)
}

const userLedgerColumns = `owner, total_deposited::text, total_withdrawn::text, current_balance::text, last_activity, bump`

func (t *ledgerTx) GetUserLedger(ctx context.Context, addr address.Address) (*domain.UserLedgerEntry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+userLedgerColumns+` FROM user_ledger WHERE address = $1`, addr.String())
	return scanUserLedger(row)
}

func (t *ledgerTx) PutUserLedger(ctx context.Context, addr address.Address, e *domain.UserLedgerEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e == nil {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_ledger (
			address, owner, total_deposited, total_withdrawn, current_balance, last_activity, bump
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
		ON CONFLICT (address) DO UPDATE
		SET owner = EXCLUDED.owner,
		    total_deposited = EXCLUDED.total_deposited,
		    total_withdrawn = EXCLUDED.total_withdrawn,
		    current_balance = EXCLUDED.current_balance,
		    last_activity = EXCLUDED.last_activity,
		    bump = EXCLUDED.bump
	`,
		addr.String(),
		e.Owner.String(),
		formatU64(e.TotalDeposited),
		formatU64(e.TotalWithdrawn),
		formatU64(e.CurrentBalance),
		e.LastActivity,
		int16(e.Bump),
	)
	return mapWriteError(err)
}

func (t *ledgerTx) ListUserLedgers(ctx context.Context) ([]*domain.UserLedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+userLedgerColumns+` FROM user_ledger ORDER BY owner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.UserLedgerEntry
	for rows.Next() {
		e, err := scanUserLedger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanUserLedger(row pgx.Row) (*domain.UserLedgerEntry, error) {
	var owner, deposited, withdrawn, current string
	var bump int16
	e := &domain.UserLedgerEntry{}
	if err := row.Scan(&owner, &deposited, &withdrawn, &current, &e.LastActivity, &bump); err != nil {
		return nil, mapScanError(err)
	}
	e.Bump = uint8(bump)

	var err error
	if e.Owner, err = address.Parse(owner); err != nil {
		return nil, err
	}
	if e.TotalDeposited, err = parseU64(deposited); err != nil {
		return nil, err
	}
	if e.TotalWithdrawn, err = parseU64(withdrawn); err != nil {
		return nil, err
	}
	if e.CurrentBalance, err = parseU64(current); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *ledgerTx) GetTokenCustody(ctx context.Context, addr address.Address) (*domain.TokenCustody, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT administrator, custody_account_a, custody_account_b, total_a::text, total_b::text, bump
		FROM token_custody
		WHERE address = $1
	`, addr.String())

	var admin, accA, accB, totalA, totalB string
	var bump int16
	if err := row.Scan(&admin, &accA, &accB, &totalA, &totalB, &bump); err != nil {
		return nil, mapScanError(err)
	}

	c := &domain.TokenCustody{Bump: uint8(bump)}
	var err error
	if c.Administrator, err = address.Parse(admin); err != nil {
		return nil, err
	}
	if c.CustodyAccountA, err = address.Parse(accA); err != nil {
		return nil, err
	}
	if c.CustodyAccountB, err = address.Parse(accB); err != nil {
		return nil, err
	}
	if c.TotalA, err = parseU64(totalA); err != nil {
		return nil, err
	}
	if c.TotalB, err = parseU64(totalB); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *ledgerTx) PutTokenCustody(ctx context.Context, addr address.Address, c *domain.TokenCustody) error {
	if err := t.writable(); err != nil {
		return err
	}
	if c == nil {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO token_custody (
			address, administrator, custody_account_a, custody_account_b, total_a, total_b, bump
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (address) DO UPDATE
		SET administrator = EXCLUDED.administrator,
		    custody_account_a = EXCLUDED.custody_account_a,
		    custody_account_b = EXCLUDED.custody_account_b,
		    total_a = EXCLUDED.total_a,
		    total_b = EXCLUDED.total_b,
		    bump = EXCLUDED.bump
	`,
		addr.String(),
		c.Administrator.String(),
		c.CustodyAccountA.String(),
		c.CustodyAccountB.String(),
		formatU64(c.TotalA),
		formatU64(c.TotalB),
		int16(c.Bump),
	)
	return mapWriteError(err)
}

const tokenBalanceColumns = `owner, balance_a::text, balance_b::text, last_swap_timestamp, total_swapped::text, bump`

func (t *ledgerTx) GetUserTokenBalance(ctx context.Context, addr address.Address) (*domain.UserTokenBalance, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+tokenBalanceColumns+` FROM user_token_balance WHERE address = $1`, addr.String())
	return scanTokenBalance(row)
}

func (t *ledgerTx) PutUserTokenBalance(ctx context.Context, addr address.Address, b *domain.UserTokenBalance) error {
	if err := t.writable(); err != nil {
		return err
	}
	if b == nil {
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_token_balance (
			address, owner, balance_a, balance_b, last_swap_timestamp, total_swapped, bump
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7)
		ON CONFLICT (address) DO UPDATE
		SET owner = EXCLUDED.owner,
		    balance_a = EXCLUDED.balance_a,
		    balance_b = EXCLUDED.balance_b,
		    last_swap_timestamp = EXCLUDED.last_swap_timestamp,
		    total_swapped = EXCLUDED.total_swapped,
		    bump = EXCLUDED.bump
	`,
		addr.String(),
		b.Owner.String(),
		formatU64(b.BalanceA),
		formatU64(b.BalanceB),
		b.LastSwapTimestamp,
		formatU64(b.TotalSwapped),
		int16(b.Bump),
	)
	return mapWriteError(err)
}

func (t *ledgerTx) ListUserTokenBalances(ctx context.Context) ([]*domain.UserTokenBalance, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+tokenBalanceColumns+` FROM user_token_balance ORDER BY owner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.UserTokenBalance
	for rows.Next() {
		b, err := scanTokenBalance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanTokenBalance(row pgx.Row) (*domain.UserTokenBalance, error) {
	var owner, balA, balB, swapped string
	var bump int16
	b := &domain.UserTokenBalance{}
	if err := row.Scan(&owner, &balA, &balB, &b.LastSwapTimestamp, &swapped, &bump); err != nil {
		return nil, mapScanError(err)
	}
	b.Bump = uint8(bump)

	var err error
	if b.Owner, err = address.Parse(owner); err != nil {
		return nil, err
	}
	if b.BalanceA, err = parseU64(balA); err != nil {
		return nil, err
	}
	if b.BalanceB, err = parseU64(balB); err != nil {
		return nil, err
	}
	if b.TotalSwapped, err = parseU64(swapped); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *ledgerTx) GetSwapState(ctx context.Context, addr address.Address) (*domain.SwapState, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT total_a_swapped::text, total_b_received::text, last_price::text, swap_count::text
		FROM swap_state
		WHERE address = $1
	`, addr.String())

	var swapped, received, price, count string
	if err := row.Scan(&swapped, &received, &price, &count); err != nil {
		return nil, mapScanError(err)
	}

	s := &domain.SwapState{}
	var err error
	if s.TotalASwapped, err = parseU64(swapped); err != nil {
		return nil, err
	}
	if s.TotalBReceived, err = parseU64(received); err != nil {
		return nil, err
	}
	if err = s.LastPrice.SetFromDecimal(price); err != nil {
		return nil, fmt.Errorf("parse last_price %q: %w", price, err)
	}
	if s.SwapCount, err = parseU64(count); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *ledgerTx) PutSwapState(ctx context.Context, addr address.Address, s *domain.SwapState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil {
		return storage.ErrInvalidInput
	}

	price := new(uint256.Int).Set(&s.LastPrice)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO swap_state (address, total_a_swapped, total_b_received, last_price, swap_count)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric)
		ON CONFLICT (address) DO UPDATE
		SET total_a_swapped = EXCLUDED.total_a_swapped,
		    total_b_received = EXCLUDED.total_b_received,
		    last_price = EXCLUDED.last_price,
		    swap_count = EXCLUDED.swap_count
	`,
		addr.String(),
		formatU64(s.TotalASwapped),
		formatU64(s.TotalBReceived),
		price.Dec(),
		formatU64(s.SwapCount),
	)
	return mapWriteError(err)
}

func (t *ledgerTx) Balance(ctx context.Context, addr address.Address, asset domain.Asset) (uint64, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT amount::text FROM value_balances WHERE address = $1 AND asset = $2
	`, addr.String(), string(asset))

	var amount string
	if err := row.Scan(&amount); err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}
	return parseU64(amount)
}

func (t *ledgerTx) Transfer(ctx context.Context, from, to address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.Debit(ctx, from, asset, amount); err != nil {
		return err
	}
	return t.Credit(ctx, to, asset, amount)
}

// Credit upserts the balance row. The u64 CHECK constraint turns an
// overflowing sum into domain.ErrMathOverflow.
func (t *ledgerTx) Credit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO value_balances (address, asset, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (address, asset) DO UPDATE
		SET amount = value_balances.amount + EXCLUDED.amount
	`, addr.String(), string(asset), formatU64(amount))
	return mapWriteError(err)
}

// Debit decrements the balance only when it covers amount.
func (t *ledgerTx) Debit(ctx context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE value_balances
		SET amount = amount - $3::numeric
		WHERE address = $1 AND asset = $2 AND amount >= $3::numeric
	`, addr.String(), string(asset), formatU64(amount))
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func formatU64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// dbError filters out ledger rule rejections so only database faults
// count as query errors.
func dbError(err error) error {
	if err == nil || domain.KindOf(err) != domain.KindUnknown {
		return nil
	}
	return err
}

func mapScanError(err error) error {
	if isNotFoundError(err) {
		return storage.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case isCheckViolation(err):
		return errors.Join(domain.ErrMathOverflow, err)
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	default:
		return err
	}
}
