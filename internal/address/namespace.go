package address

// Namespace is the leading seed of a derived address.
type Namespace string

// Namespaces used by the ledger.
const (
	NamespaceLedger           Namespace = "ledger"
	NamespaceVaultCustody     Namespace = "vault-custody"
	NamespaceUserLedger       Namespace = "user-ledger"
	NamespaceTokenCustody     Namespace = "token-custody"
	NamespaceUserTokenBalance Namespace = "user-token-balance"
	NamespaceSwapState        Namespace = "swap-state"
	NamespaceTokenAccount     Namespace = "token-account"
)

// Derived is a derived address together with the bump that produced it.
type Derived struct {
	Address Address
	Bump    uint8
}

// Derive computes the address for ns and keys under programID.
func Derive(programID Address, ns Namespace, keys ...[]byte) (Derived, error) {
	seeds := make([][]byte, 0, len(keys)+1)
	seeds = append(seeds, []byte(ns))
	seeds = append(seeds, keys...)

	addr, bump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		return Derived{}, err
	}
	return Derived{Address: addr, Bump: bump}, nil
}

// Verify reports whether addr is the address derived from ns and keys.
func Verify(programID Address, addr Address, ns Namespace, keys ...[]byte) bool {
	d, err := Derive(programID, ns, keys...)
	return err == nil && d.Address == addr
}

// Deriver binds derivation to a single program ID.
type Deriver struct {
	ProgramID Address
}

// NewDeriver creates a Deriver for programID.
func NewDeriver(programID Address) Deriver {
	return Deriver{ProgramID: programID}
}

// Ledger returns the GlobalLedger address.
func (d Deriver) Ledger() (Derived, error) {
	return Derive(d.ProgramID, NamespaceLedger)
}

// VaultCustody returns the native custody vault address.
func (d Deriver) VaultCustody() (Derived, error) {
	return Derive(d.ProgramID, NamespaceVaultCustody)
}

// UserLedger returns the ledger entry address of owner.
func (d Deriver) UserLedger(owner Address) (Derived, error) {
	return Derive(d.ProgramID, NamespaceUserLedger, owner[:])
}

// TokenCustody returns the TokenCustody address.
func (d Deriver) TokenCustody() (Derived, error) {
	return Derive(d.ProgramID, NamespaceTokenCustody)
}

// UserTokenBalance returns the token balance record address of owner.
func (d Deriver) UserTokenBalance(owner Address) (Derived, error) {
	return Derive(d.ProgramID, NamespaceUserTokenBalance, owner[:])
}

// SwapState returns the SwapState address.
func (d Deriver) SwapState() (Derived, error) {
	return Derive(d.ProgramID, NamespaceSwapState)
}

// TokenAccount returns the account holding asset on behalf of owner.
func (d Deriver) TokenAccount(owner Address, asset string) (Derived, error) {
	return Derive(d.ProgramID, NamespaceTokenAccount, owner[:], []byte(asset))
}
