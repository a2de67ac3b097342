package domain

import "custody-ledger/internal/address"

// GlobalLedger is the singleton aggregate of native custody.
// TotalDeposited always equals the sum of all UserLedgerEntry.CurrentBalance
// values and the native balance of the custody vault.
type GlobalLedger struct {
	Administrator  address.Address
	TotalDeposited uint64
	Bump           uint8
}

// UserLedgerEntry tracks one depositor's native balance and lifetime totals.
// Invariant: CurrentBalance == TotalDeposited - TotalWithdrawn.
type UserLedgerEntry struct {
	Owner          address.Address
	TotalDeposited uint64
	TotalWithdrawn uint64
	CurrentBalance uint64
	LastActivity   int64 // Unix seconds
	Bump           uint8
}

// VaultStats is the result of a custody verification query.
type VaultStats struct {
	TotalDeposited uint64 // GlobalLedger bookkeeping
	VaultBalance   uint64 // native value actually held by the custody vault
}

// Balanced reports whether bookkeeping matches held value.
func (s VaultStats) Balanced() bool {
	return s.TotalDeposited == s.VaultBalance
}
