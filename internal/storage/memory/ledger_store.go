package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

type balanceKey struct {
	addr  address.Address
	asset domain.Asset
}

// ledgerState is the full account state. It is cloned at the start of every
// Update so a failed unit of work can be discarded without undo logic.
type ledgerState struct {
	globals       map[address.Address]domain.GlobalLedger
	users         map[address.Address]domain.UserLedgerEntry
	custodies     map[address.Address]domain.TokenCustody
	tokenBalances map[address.Address]domain.UserTokenBalance
	swapStates    map[address.Address]domain.SwapState
	balances      map[balanceKey]uint64
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		globals:       make(map[address.Address]domain.GlobalLedger),
		users:         make(map[address.Address]domain.UserLedgerEntry),
		custodies:     make(map[address.Address]domain.TokenCustody),
		tokenBalances: make(map[address.Address]domain.UserTokenBalance),
		swapStates:    make(map[address.Address]domain.SwapState),
		balances:      make(map[balanceKey]uint64),
	}
}

func (s *ledgerState) clone() *ledgerState {
	c := &ledgerState{
		globals:       make(map[address.Address]domain.GlobalLedger, len(s.globals)),
		users:         make(map[address.Address]domain.UserLedgerEntry, len(s.users)),
		custodies:     make(map[address.Address]domain.TokenCustody, len(s.custodies)),
		tokenBalances: make(map[address.Address]domain.UserTokenBalance, len(s.tokenBalances)),
		swapStates:    make(map[address.Address]domain.SwapState, len(s.swapStates)),
		balances:      make(map[balanceKey]uint64, len(s.balances)),
	}
	for k, v := range s.globals {
		c.globals[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.custodies {
		c.custodies[k] = v
	}
	for k, v := range s.tokenBalances {
		c.tokenBalances[k] = v
	}
	for k, v := range s.swapStates {
		c.swapStates[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

// LedgerStore is an in-memory implementation of storage.Store.
// Updates are fully serialized.
type LedgerStore struct {
	mu    sync.RWMutex
	state *ledgerState
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{state: newLedgerState()}
}

// Update runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&ledgerTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn against the current state; mutations return ErrReadOnly.
func (s *LedgerStore) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&ledgerTx{state: s.state, readOnly: true})
}

var _ storage.Store = (*LedgerStore)(nil)

type ledgerTx struct {
	state    *ledgerState
	readOnly bool
}

func (t *ledgerTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *ledgerTx) GetGlobalLedger(_ context.Context, addr address.Address) (*domain.GlobalLedger, error) {
	v, ok := t.state.globals[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (t *ledgerTx) PutGlobalLedger(_ context.Context, addr address.Address, l *domain.GlobalLedger) error {
	if err := t.writable(); err != nil {
		return err
	}
	if l == nil {
		return storage.ErrInvalidInput
	}
	t.state.globals[addr] = *l
	return nil
}

func (t *ledgerTx) GetUserLedger(_ context.Context, addr address.Address) (*domain.UserLedgerEntry, error) {
	v, ok := t.state.users[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (t *ledgerTx) PutUserLedger(_ context.Context, addr address.Address, e *domain.UserLedgerEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e == nil {
		return storage.ErrInvalidInput
	}
	t.state.users[addr] = *e
	return nil
}

func (t *ledgerTx) ListUserLedgers(_ context.Context) ([]*domain.UserLedgerEntry, error) {
	result := make([]*domain.UserLedgerEntry, 0, len(t.state.users))
	for _, v := range t.state.users {
		v := v
		result = append(result, &v)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Owner[:], result[j].Owner[:]) < 0
	})
	return result, nil
}

func (t *ledgerTx) GetTokenCustody(_ context.Context, addr address.Address) (*domain.TokenCustody, error) {
	v, ok := t.state.custodies[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (t *ledgerTx) PutTokenCustody(_ context.Context, addr address.Address, c *domain.TokenCustody) error {
	if err := t.writable(); err != nil {
		return err
	}
	if c == nil {
		return storage.ErrInvalidInput
	}
	t.state.custodies[addr] = *c
	return nil
}

func (t *ledgerTx) GetUserTokenBalance(_ context.Context, addr address.Address) (*domain.UserTokenBalance, error) {
	v, ok := t.state.tokenBalances[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (t *ledgerTx) PutUserTokenBalance(_ context.Context, addr address.Address, b *domain.UserTokenBalance) error {
	if err := t.writable(); err != nil {
		return err
	}
	if b == nil {
		return storage.ErrInvalidInput
	}
	t.state.tokenBalances[addr] = *b
	return nil
}

func (t *ledgerTx) ListUserTokenBalances(_ context.Context) ([]*domain.UserTokenBalance, error) {
	result := make([]*domain.UserTokenBalance, 0, len(t.state.tokenBalances))
	for _, v := range t.state.tokenBalances {
		v := v
		result = append(result, &v)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Owner[:], result[j].Owner[:]) < 0
	})
	return result, nil
}

func (t *ledgerTx) GetSwapState(_ context.Context, addr address.Address) (*domain.SwapState, error) {
	v, ok := t.state.swapStates[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (t *ledgerTx) PutSwapState(_ context.Context, addr address.Address, s *domain.SwapState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil {
		return storage.ErrInvalidInput
	}
	t.state.swapStates[addr] = *s
	return nil
}

func (t *ledgerTx) Balance(_ context.Context, addr address.Address, asset domain.Asset) (uint64, error) {
	return t.state.balances[balanceKey{addr, asset}], nil
}

func (t *ledgerTx) Transfer(ctx context.Context, from, to address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	fromKey := balanceKey{from, asset}
	toKey := balanceKey{to, asset}

	fromBal := t.state.balances[fromKey]
	if fromBal < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal, err := domain.CheckedAdd(t.state.balances[toKey], amount)
	if err != nil {
		return err
	}
	t.state.balances[fromKey] = fromBal - amount
	t.state.balances[toKey] = toBal
	return nil
}

func (t *ledgerTx) Credit(_ context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := balanceKey{addr, asset}
	bal, err := domain.CheckedAdd(t.state.balances[key], amount)
	if err != nil {
		return err
	}
	t.state.balances[key] = bal
	return nil
}

func (t *ledgerTx) Debit(_ context.Context, addr address.Address, asset domain.Asset, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := balanceKey{addr, asset}
	bal := t.state.balances[key]
	if bal < amount {
		return domain.ErrInsufficientFunds
	}
	t.state.balances[key] = bal - amount
	return nil
}
