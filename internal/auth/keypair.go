// Package auth authenticates the identity behind a ledger request.
//
// The ledger core only accepts a Caller, which can be obtained from a
// verified Envelope, from a locally held Keypair, or through Bootstrap.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"custody-ledger/internal/address"
)

// Keypair is an ed25519 signing key.
type Keypair struct {
	priv ed25519.PrivateKey
}

// Generate creates a random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// FromPrivateKey wraps a 64-byte seed||public key.
func FromPrivateKey(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	kp, err := FromSeed(b[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if !kp.priv.Equal(ed25519.PrivateKey(b)) {
		return nil, fmt.Errorf("public half does not match seed")
	}
	return kp, nil
}

// Public returns the keypair's identity.
func (k *Keypair) Public() address.Address {
	var a address.Address
	copy(a[:], k.priv.Public().(ed25519.PublicKey))
	return a
}

// Sign signs payload.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.priv, payload)
}

// Caller returns the identity of a locally held key. Holding the private
// key is the authentication.
func (k *Keypair) Caller() Caller {
	return Caller{id: k.Public()}
}

// LoadKeyfile reads a keyfile holding the 64 private key bytes as a JSON
// array of integers.
func LoadKeyfile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keyfile %s: %w", path, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keyfile %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}
	return FromPrivateKey(raw)
}

// SaveKeyfile writes the keypair in LoadKeyfile's format, readable only by
// the current user.
func (k *Keypair) SaveKeyfile(path string) error {
	ints := make([]int, len(k.priv))
	for i, b := range k.priv {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("marshal keyfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keyfile: %w", err)
	}
	return nil
}
