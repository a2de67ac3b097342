package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/storage/memory"
)

func TestInitializeTokenCustody(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.InitializeTokenCustody(f.ctx, f.alice.Caller())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	custody, err := f.engine.InitializeTokenCustody(f.ctx, f.admin.Caller())
	require.NoError(t, err)
	addrs := f.engine.Addresses()
	assert.Equal(t, addrs.CustodyAccountA, custody.CustodyAccountA)
	assert.Equal(t, addrs.CustodyAccountB, custody.CustodyAccountB)
	assert.Equal(t, f.admin.Public(), custody.Administrator)

	stats, err := f.engine.GetSwapState(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SwapCount)

	_, err = f.engine.InitializeTokenCustody(f.ctx, f.admin.Caller())
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestInitializeTokenCustody_RequiresLedger(t *testing.T) {
	e := newEngine(t, memory.NewLedgerStore(), nil, nil)
	_, err := e.InitializeTokenCustody(context.Background(), keypair(t, 1).Caller())
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestInitializeUserTokenBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.InitializeUserTokenBalance(f.ctx, f.alice.Caller())
	assert.ErrorIs(t, err, domain.ErrNotInitialized, "token custody must exist first")

	f.withTokenCustody()
	bal, err := f.engine.InitializeUserTokenBalance(f.ctx, f.alice.Caller())
	require.NoError(t, err)
	assert.Equal(t, f.alice.Public(), bal.Owner)

	_, err = f.engine.InitializeUserTokenBalance(f.ctx, f.alice.Caller())
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestWrapUnwrap(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.deposit(f.alice, 500_000_000)

	bal, err := f.engine.Wrap(f.ctx, f.alice.Caller(), 300_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), bal.BalanceA)

	entry, err := f.engine.GetUserLedger(f.ctx, f.alice.Public())
	require.NoError(t, err)
	assert.Equal(t, uint64(200_000_000), entry.CurrentBalance)
	assert.Equal(t, uint64(300_000_000), entry.TotalWithdrawn)

	addrs := f.engine.Addresses()
	assert.Equal(t, uint64(200_000_000), f.held(addrs.VaultCustody, domain.AssetNative))
	assert.Equal(t, uint64(300_000_000), f.held(addrs.CustodyAccountA, domain.AssetWrapped))
	f.requireInvariants()

	entry, err = f.engine.Unwrap(f.ctx, f.alice.Caller(), 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), entry.CurrentBalance)
	assert.Equal(t, uint64(600_000_000), entry.TotalDeposited)
	assert.Equal(t, uint64(200_000_000), f.tokenBalance(f.alice.Public()).BalanceA)
	f.requireInvariants()

	// total value in custody is unchanged by wrap/unwrap
	total := f.held(addrs.VaultCustody, domain.AssetNative) + f.held(addrs.CustodyAccountA, domain.AssetWrapped)
	assert.Equal(t, uint64(500_000_000), total)
}

func TestWrap_Rejections(t *testing.T) {
	f := newFixture(t)
	f.deposit(f.alice, 500_000_000)

	_, err := f.engine.Wrap(f.ctx, f.alice.Caller(), 100)
	assert.ErrorIs(t, err, domain.ErrNotInitialized, "token custody missing")

	f.withTokenCustody()
	before := f.snapshot()

	_, err = f.engine.Wrap(f.ctx, f.alice.Caller(), 500_000_001)
	assert.ErrorIs(t, err, domain.ErrInsufficientUserBalance)

	_, err = f.engine.Wrap(f.ctx, f.alice.Caller(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.Wrap(f.ctx, f.bob.Caller(), 1)
	assert.ErrorIs(t, err, domain.ErrNotInitialized, "bob has no ledger entry")

	_, err = f.engine.Unwrap(f.ctx, f.alice.Caller(), 1)
	assert.ErrorIs(t, err, domain.ErrTokenAccountNotInitialized)

	assert.Equal(t, before, f.snapshot())
}

func TestUnwrap_InsufficientWrapped(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.deposit(f.alice, sol)
	f.wrap(f.alice, 100)

	_, err := f.engine.Unwrap(f.ctx, f.alice.Caller(), 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientUserBalance)
	f.requireInvariants()
}

// swapFixture has alice with 2 wrapped units and a fixed-rate exchange
// paying 40_000_000 second-asset units per wrapped unit.
func swapFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	rate := exchange.NewFixedRate(40_000_000, sol)
	f.engine = newEngine(t, f.store, rate, f.journal)
	f.withTokenCustody()
	f.deposit(f.alice, 5*sol)
	f.wrap(f.alice, 2*sol)
	return f
}

func TestUserSwap(t *testing.T) {
	f := swapFixture(t)

	res, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 40_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000_000), res.Received)
	assert.Equal(t, domain.AToB, res.Direction)

	bal := f.tokenBalance(f.alice.Public())
	assert.Equal(t, uint64(sol), bal.BalanceA)
	assert.Equal(t, uint64(40_000_000), bal.BalanceB)
	assert.Equal(t, uint64(sol), bal.TotalSwapped)
	assert.Equal(t, int64(1_700_000_000), bal.LastSwapTimestamp)

	stats, err := f.engine.GetSwapState(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.SwapCount)
	assert.Equal(t, uint64(sol), stats.TotalASwapped)
	assert.Equal(t, uint64(40_000_000), stats.TotalBReceived)

	// 0.04 as Q64.64
	want := new(uint256.Int).Lsh(uint256.NewInt(40_000_000), 64)
	want.Div(want, uint256.NewInt(sol))
	assert.True(t, want.Eq(&stats.LastPrice), "price %s, want %s", stats.LastPrice.Dec(), want.Dec())

	addrs := f.engine.Addresses()
	assert.Equal(t, uint64(40_000_000), f.held(addrs.CustodyAccountB, domain.AssetSecond))
	f.requireInvariants()
}

func TestUserSwapReverse(t *testing.T) {
	f := swapFixture(t)
	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	require.NoError(t, err)

	res, err := f.engine.UserSwapReverse(f.ctx, f.alice.Caller(), f.alice.Public(), 20_000_000, 500_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), res.Received)
	assert.Equal(t, domain.BToA, res.Direction)

	bal := f.tokenBalance(f.alice.Public())
	assert.Equal(t, uint64(1_500_000_000), bal.BalanceA)
	assert.Equal(t, uint64(20_000_000), bal.BalanceB)
	assert.Equal(t, uint64(sol+20_000_000), bal.TotalSwapped)

	stats, err := f.engine.GetSwapState(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.SwapCount)
	assert.Equal(t, uint64(sol), stats.TotalASwapped, "reverse legs are not A-side volume")
	f.requireInvariants()
}

func TestUserSwap_SlippageExceeded(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.ex.Out = 39_000_000
	f.deposit(f.alice, 2*sol)
	f.wrap(f.alice, sol)
	before := f.snapshot()

	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), 1_000_000_000, 40_000_000)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, domain.KindExternal, domain.KindOf(err))
	assert.Equal(t, 1, f.ex.Calls())

	assert.Equal(t, before, f.snapshot())
	f.requireInvariants()
}

func TestUserSwap_SlippageGuarantee(t *testing.T) {
	const minOut = 40_000_000
	for _, out := range []uint64{0, minOut - 1, minOut, minOut + 1, 3 * minOut} {
		f := newFixture(t).withTokenCustody()
		f.ex.Out = out
		f.deposit(f.alice, sol)
		f.wrap(f.alice, sol)

		res, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, minOut)
		bal := f.tokenBalance(f.alice.Public())
		if out < minOut {
			assert.ErrorIs(t, err, domain.ErrSlippageExceeded, "out=%d", out)
			assert.Zero(t, bal.BalanceB)
			continue
		}
		require.NoError(t, err, "out=%d", out)
		assert.GreaterOrEqual(t, res.Received, uint64(minOut))
		assert.Equal(t, out, bal.BalanceB)
		f.requireInvariants()
	}
}

func TestUserSwap_ExchangeFailureRollsBack(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.ex.FailAfterDebit = errors.New("pool paused")
	f.deposit(f.alice, sol)
	f.wrap(f.alice, sol)
	before := f.snapshot()

	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrSwapFailed)
	assert.Equal(t, before, f.snapshot())
	assert.Equal(t, uint64(sol), f.held(f.engine.Addresses().CustodyAccountA, domain.AssetWrapped))
}

func TestUserSwap_ExchangeMinimumOutputIsSwapFailed(t *testing.T) {
	f := swapFixture(t)

	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 40_000_001)
	assert.ErrorIs(t, err, domain.ErrSwapFailed)
	assert.ErrorContains(t, err, "below minimum")
	f.requireInvariants()
}

func TestUserSwap_Gates(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.ex.Out = 40_000_000
	f.deposit(f.alice, 5*sol)

	// token balance missing
	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrTokenAccountNotInitialized)

	// token balance present, ledger entry missing
	_, err = f.engine.InitializeUserTokenBalance(f.ctx, f.bob.Caller())
	require.NoError(t, err)
	_, err = f.engine.UserSwap(f.ctx, f.bob.Caller(), f.bob.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrTokenAccountNotInitialized)

	f.wrap(f.alice, sol)

	// another owner
	_, err = f.engine.UserSwap(f.ctx, f.bob.Caller(), f.alice.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// native balance is never wrapped implicitly
	_, err = f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), 2*sol, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientUserBalance)
	assert.Equal(t, uint64(4*sol), f.balance(f.alice.Public()))

	assert.Zero(t, f.ex.Calls())
	f.requireInvariants()
}

func TestUserSwap_InvalidPool(t *testing.T) {
	f := newFixture(t).withTokenCustody()
	f.ex.Pool = exchange.PoolConfig{TokenA: domain.AssetSecond, TokenB: domain.AssetWrapped}
	f.deposit(f.alice, sol)
	f.wrap(f.alice, sol)

	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPoolConfiguration)
	assert.Zero(t, f.ex.Calls())
}

func TestUserSwap_NoExchange(t *testing.T) {
	f := newFixture(t)
	f.engine = newEngine(t, f.store, nil, nil)
	f.withTokenCustody()
	f.deposit(f.alice, sol)
	f.wrap(f.alice, sol)

	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	assert.ErrorIs(t, err, domain.ErrSwapFailed)
}

// rogueExchange pays out to an account it was not given.
type rogueExchange struct{ target address.Address }

func (r *rogueExchange) PoolConfig(context.Context) (exchange.PoolConfig, error) {
	return exchange.PoolConfig{TokenA: domain.AssetWrapped, TokenB: domain.AssetSecond}, nil
}

func (r *rogueExchange) Swap(ctx context.Context, s exchange.Settlement, req exchange.SwapRequest) error {
	if err := s.Debit(ctx, req.SourceAccount, domain.AssetWrapped, req.AmountIn); err != nil {
		return err
	}
	return s.Credit(ctx, r.target, domain.AssetNative, req.AmountIn)
}

// shortTaker takes less input than requested.
type shortTaker struct{}

func (shortTaker) PoolConfig(context.Context) (exchange.PoolConfig, error) {
	return exchange.PoolConfig{TokenA: domain.AssetWrapped, TokenB: domain.AssetSecond}, nil
}

func (shortTaker) Swap(ctx context.Context, s exchange.Settlement, req exchange.SwapRequest) error {
	if err := s.Debit(ctx, req.SourceAccount, domain.AssetWrapped, req.AmountIn/2); err != nil {
		return err
	}
	return s.Credit(ctx, req.DestinationAccount, domain.AssetSecond, 1)
}

func TestUserSwap_SettlementIsConfined(t *testing.T) {
	for name, ex := range map[string]exchange.Exchange{
		"foreign account": &rogueExchange{target: keypair(t, 8).Public()},
		"partial input":   shortTaker{},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.engine = newEngine(t, f.store, ex, nil)
			f.withTokenCustody()
			f.deposit(f.alice, sol)
			f.wrap(f.alice, sol)
			before := f.snapshot()

			_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
			assert.ErrorIs(t, err, domain.ErrSwapFailed)
			assert.Equal(t, before, f.snapshot())
			f.requireInvariants()
		})
	}
}

func TestWithdrawSecondAsset(t *testing.T) {
	f := swapFixture(t)
	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	require.NoError(t, err)

	carol := keypair(t, 9).Public()
	bal, err := f.engine.WithdrawSecondAsset(f.ctx, f.alice.Caller(), f.alice.Public(), 15_000_000, carol)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000_000), bal.BalanceB)

	dest, err := address.NewDeriver(testProgramID).TokenAccount(carol, string(domain.AssetSecond))
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000_000), f.held(dest.Address, domain.AssetSecond))

	custody, err := f.engine.GetTokenCustody(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000_000), custody.TotalB)
	f.requireInvariants()

	_, err = f.engine.WithdrawSecondAsset(f.ctx, f.bob.Caller(), f.alice.Public(), 1, f.bob.Public())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.WithdrawSecondAsset(f.ctx, f.alice.Caller(), f.alice.Public(), 25_000_001, address.Address{})
	assert.ErrorIs(t, err, domain.ErrInsufficientUserBalance)

	_, err = f.engine.WithdrawSecondAsset(f.ctx, f.bob.Caller(), f.bob.Public(), 1, address.Address{})
	assert.ErrorIs(t, err, domain.ErrTokenAccountNotInitialized)
	f.requireInvariants()
}

func TestWithdrawSecondAsset_RefusesCustodyRecipient(t *testing.T) {
	f := swapFixture(t)
	_, err := f.engine.UserSwap(f.ctx, f.alice.Caller(), f.alice.Public(), sol, 0)
	require.NoError(t, err)
	addrs := f.engine.Addresses()
	before := f.tokenBalance(f.alice.Public())

	// the vault's second-asset token account is custody account B
	for _, to := range []address.Address{addrs.VaultCustody, addrs.CustodyAccountA, addrs.CustodyAccountB} {
		_, err := f.engine.WithdrawSecondAsset(f.ctx, f.alice.Caller(), f.alice.Public(), 10_000_000, to)
		assert.ErrorIs(t, err, domain.ErrInvalidAccount)
	}

	assert.Equal(t, before, f.tokenBalance(f.alice.Public()))
	assert.Equal(t, before.BalanceB, f.held(addrs.CustodyAccountB, domain.AssetSecond))
	f.requireInvariants()
}
