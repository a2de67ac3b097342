package domain

import (
	"errors"

	"custody-ledger/internal/address"
)

// Kind classifies ledger errors for callers deciding how to react.
type Kind string

// Error kinds.
const (
	KindUnknown       Kind = "unknown"
	KindAuthorization Kind = "authorization"
	KindBalance       Kind = "balance"
	KindArithmetic    Kind = "arithmetic"
	KindState         Kind = "state"
	KindExternal      Kind = "external"
	KindInput         Kind = "input"
)

// Authorization errors. Never recovered automatically.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrOwnerMismatch = errors.New("owner mismatch")
)

// Balance errors.
var (
	ErrInsufficientUserBalance   = errors.New("insufficient balance in user account")
	ErrInsufficientFunds         = errors.New("insufficient funds in account")
	ErrInsufficientNativeBalance = errors.New("insufficient native balance")
	ErrInsufficientWrapped       = errors.New("insufficient wrapped balance")
)

// ErrMathOverflow is returned instead of wrapping or saturating.
var ErrMathOverflow = errors.New("math overflow")

// State errors.
var (
	ErrAlreadyInitialized         = errors.New("already initialized")
	ErrNotInitialized             = errors.New("not initialized")
	ErrTokenAccountNotInitialized = errors.New("token account not initialized")
	ErrNoValidAddress             = address.ErrNoValidAddress
)

// External-call errors.
var (
	ErrSwapFailed               = errors.New("swap failed")
	ErrWrapFailed               = errors.New("failed to wrap native asset")
	ErrUnwrapFailed             = errors.New("failed to unwrap native asset")
	ErrSlippageExceeded         = errors.New("slippage tolerance exceeded")
	ErrInvalidPoolConfiguration = errors.New("invalid pool configuration")
)

// Input errors.
var (
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrInvalidAccount = errors.New("invalid account")
)

// kinds is ordered; the first sentinel matched wins. External-call errors
// come before balance errors because they wrap the underlying cause.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthorized, KindAuthorization},
	{ErrOwnerMismatch, KindAuthorization},
	{ErrSwapFailed, KindExternal},
	{ErrWrapFailed, KindExternal},
	{ErrUnwrapFailed, KindExternal},
	{ErrSlippageExceeded, KindExternal},
	{ErrInvalidPoolConfiguration, KindExternal},
	{ErrInsufficientUserBalance, KindBalance},
	{ErrInsufficientFunds, KindBalance},
	{ErrInsufficientNativeBalance, KindBalance},
	{ErrInsufficientWrapped, KindBalance},
	{ErrMathOverflow, KindArithmetic},
	{ErrAlreadyInitialized, KindState},
	{ErrNotInitialized, KindState},
	{ErrTokenAccountNotInitialized, KindState},
	{ErrNoValidAddress, KindState},
	{ErrInvalidAmount, KindInput},
	{ErrInvalidAccount, KindInput},
}

// KindOf returns the category of the first ledger sentinel found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
