// Package address implements deterministic, non-forgeable account addresses
// derived from a namespace tag, identifying keys and a program ID.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Size is the byte length of an address.
const Size = 32

// Seed limits enforced by CreateProgramAddress.
const (
	MaxSeedLength = 32
	MaxSeeds      = 16
)

// pdaMarker is appended to every derivation preimage so that derived
// addresses live in a different hash domain than ordinary keys.
const pdaMarker = "ProgramDerivedAddress"

var (
	// ErrNoValidAddress is returned when no bump in the search space yields
	// an off-curve address.
	ErrNoValidAddress = errors.New("no valid derived address")

	// ErrOnCurve is returned by CreateProgramAddress when the hash is a valid
	// ed25519 point, i.e. could be controlled by a private key.
	ErrOnCurve = errors.New("derived address lies on the ed25519 curve")

	// ErrMaxSeedLength is returned for seeds longer than MaxSeedLength or
	// more than MaxSeeds seeds.
	ErrMaxSeedLength = errors.New("seed length exceeds limit")

	// ErrInvalidAddress is returned when parsing a malformed address.
	ErrInvalidAddress = errors.New("invalid address")
)

// Address is a 32-byte account address. Identities (ed25519 public keys)
// and derived addresses share this representation.
type Address [Size]byte

// Zero is the all-zero address.
var Zero Address

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a base58 address.
func Parse(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != Size {
		return a, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(decoded))
	}
	copy(a[:], decoded)
	return a, nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes copies b into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// CreateProgramAddress hashes seeds and programID into an address and
// rejects results that are valid curve points.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrMaxSeedLength
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Zero, ErrMaxSeedLength
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return Zero, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the
// first off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := byte(255); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, bump, nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return Zero, 0, err
		}
	}

	return Zero, 0, ErrNoValidAddress
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
