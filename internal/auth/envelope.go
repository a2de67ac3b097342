package auth

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
)

// Caller is an authenticated identity.
type Caller struct {
	id address.Address
}

// Address returns the caller's identity.
func (c Caller) Address() address.Address {
	return c.id
}

// IsZero reports whether c carries no identity.
func (c Caller) IsZero() bool {
	return c.id.IsZero()
}

func (c Caller) String() string {
	return c.id.String()
}

// Bootstrap vouches for addr without a signature. Reserved for the
// administrative bootstrap path configured by the operator.
func Bootstrap(addr address.Address) Caller {
	return Caller{id: addr}
}

// Envelope is a signed request.
type Envelope struct {
	Signer    address.Address `json:"signer"`
	Payload   []byte          `json:"payload"`
	Signature []byte          `json:"signature"`
}

// Verify checks env's signature and returns its signer.
func Verify(env *Envelope) (Caller, error) {
	if env == nil || env.Signer.IsZero() {
		return Caller{}, fmt.Errorf("%w: missing signer", domain.ErrUnauthorized)
	}
	if len(env.Signature) != ed25519.SignatureSize {
		return Caller{}, fmt.Errorf("%w: malformed signature", domain.ErrUnauthorized)
	}
	if !ed25519.Verify(ed25519.PublicKey(env.Signer.Bytes()), env.Payload, env.Signature) {
		return Caller{}, fmt.Errorf("%w: bad signature", domain.ErrUnauthorized)
	}
	return Caller{id: env.Signer}, nil
}

// Operation is the payload of an operation envelope.
type Operation struct {
	Op         domain.Op       `json:"op"`
	Amount     uint64          `json:"amount,omitempty"`
	MinimumOut uint64          `json:"minimum_out,omitempty"`
	Owner      address.Address `json:"owner"`
	Recipient  address.Address `json:"recipient"`
	Nonce      string          `json:"nonce"`
	ExpiresAt  int64           `json:"expires_at"` // Unix seconds
}

// Expired reports whether op is no longer acceptable at now.
func (o *Operation) Expired(now time.Time) bool {
	return o.ExpiresAt != 0 && now.Unix() > o.ExpiresAt
}

// Seal encodes op and signs it with k.
func Seal(k *Keypair, op *Operation) (*Envelope, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal operation: %w", err)
	}
	return &Envelope{
		Signer:    k.Public(),
		Payload:   payload,
		Signature: k.Sign(payload),
	}, nil
}

// Decode parses the envelope payload as an Operation. It does not verify
// the signature.
func (e *Envelope) Decode() (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(e.Payload, &op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	if op.Op == "" {
		return nil, fmt.Errorf("decode operation: missing op")
	}
	if op.Nonce == "" {
		return nil, fmt.Errorf("decode operation: missing nonce")
	}
	return &op, nil
}
