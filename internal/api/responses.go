package api

import (
	"encoding/json"
	"net/http"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type userLedgerJSON struct {
	Owner          address.Address `json:"owner"`
	TotalDeposited uint64          `json:"total_deposited"`
	TotalWithdrawn uint64          `json:"total_withdrawn"`
	CurrentBalance uint64          `json:"current_balance"`
	LastActivity   int64           `json:"last_activity"`
}

func newUserLedgerJSON(e *domain.UserLedgerEntry) *userLedgerJSON {
	if e == nil {
		return nil
	}
	return &userLedgerJSON{
		Owner:          e.Owner,
		TotalDeposited: e.TotalDeposited,
		TotalWithdrawn: e.TotalWithdrawn,
		CurrentBalance: e.CurrentBalance,
		LastActivity:   e.LastActivity,
	}
}

type tokenBalanceJSON struct {
	Owner             address.Address `json:"owner"`
	BalanceA          uint64          `json:"balance_a"`
	BalanceB          uint64          `json:"balance_b"`
	LastSwapTimestamp int64           `json:"last_swap_timestamp"`
	TotalSwapped      uint64          `json:"total_swapped"`
}

func newTokenBalanceJSON(b *domain.UserTokenBalance) *tokenBalanceJSON {
	if b == nil {
		return nil
	}
	return &tokenBalanceJSON{
		Owner:             b.Owner,
		BalanceA:          b.BalanceA,
		BalanceB:          b.BalanceB,
		LastSwapTimestamp: b.LastSwapTimestamp,
		TotalSwapped:      b.TotalSwapped,
	}
}

type tokenCustodyJSON struct {
	Administrator   address.Address `json:"administrator"`
	CustodyAccountA address.Address `json:"custody_account_a"`
	CustodyAccountB address.Address `json:"custody_account_b"`
	TotalA          uint64          `json:"total_a"`
	TotalB          uint64          `json:"total_b"`
}

func newTokenCustodyJSON(c *domain.TokenCustody) *tokenCustodyJSON {
	if c == nil {
		return nil
	}
	return &tokenCustodyJSON{
		Administrator:   c.Administrator,
		CustodyAccountA: c.CustodyAccountA,
		CustodyAccountB: c.CustodyAccountB,
		TotalA:          c.TotalA,
		TotalB:          c.TotalB,
	}
}

type globalLedgerJSON struct {
	Administrator  address.Address `json:"administrator"`
	TotalDeposited uint64          `json:"total_deposited"`
}

type swapStateJSON struct {
	TotalASwapped  uint64 `json:"total_a_swapped"`
	TotalBReceived uint64 `json:"total_b_received"`
	LastPrice      string `json:"last_price"` // Q64.64, decimal
	SwapCount      uint64 `json:"swap_count"`
}

func newSwapStateJSON(s *domain.SwapState) *swapStateJSON {
	return &swapStateJSON{
		TotalASwapped:  s.TotalASwapped,
		TotalBReceived: s.TotalBReceived,
		LastPrice:      s.LastPrice.Dec(),
		SwapCount:      s.SwapCount,
	}
}

type swapResultJSON struct {
	Direction string            `json:"direction"`
	AmountIn  uint64            `json:"amount_in"`
	Received  uint64            `json:"received"`
	Price     string            `json:"price"`
	Balance   *tokenBalanceJSON `json:"balance"`
}

func newSwapResultJSON(r *ledger.SwapResult) *swapResultJSON {
	return &swapResultJSON{
		Direction: r.Direction.String(),
		AmountIn:  r.AmountIn,
		Received:  r.Received,
		Price:     r.Price.Dec(),
		Balance:   newTokenBalanceJSON(r.Balance),
	}
}

type vaultStatsJSON struct {
	TotalDeposited uint64 `json:"total_deposited"`
	VaultBalance   uint64 `json:"vault_balance"`
	Balanced       bool   `json:"balanced"`
}

type balanceJSON struct {
	Owner          address.Address `json:"owner"`
	CurrentBalance uint64          `json:"current_balance"`
	Formatted      string          `json:"formatted"`
}

type activityJSON struct {
	ID        string           `json:"id"`
	Op        domain.Op        `json:"op"`
	Owner     address.Address  `json:"owner"`
	Recipient *address.Address `json:"recipient,omitempty"`
	AmountIn  uint64           `json:"amount_in"`
	AmountOut uint64           `json:"amount_out"`
	Timestamp int64            `json:"timestamp"`
}

func newActivityJSON(a *domain.Activity) activityJSON {
	out := activityJSON{
		ID:        a.ID.String(),
		Op:        a.Op,
		Owner:     a.Owner,
		AmountIn:  a.AmountIn,
		AmountOut: a.AmountOut,
		Timestamp: a.Timestamp,
	}
	if !a.Recipient.IsZero() {
		r := a.Recipient
		out.Recipient = &r
	}
	return out
}

// operationResponse is the result of a submitted operation. Exactly one of
// the record fields is set, depending on the operation.
type operationResponse struct {
	Op           domain.Op         `json:"op"`
	Ledger       *globalLedgerJSON `json:"ledger,omitempty"`
	UserLedger   *userLedgerJSON   `json:"user_ledger,omitempty"`
	TokenCustody *tokenCustodyJSON `json:"token_custody,omitempty"`
	TokenBalance *tokenBalanceJSON `json:"token_balance,omitempty"`
	Swap         *swapResultJSON   `json:"swap,omitempty"`
}
