package api

import (
	"sync"
	"time"

	"custody-ledger/internal/address"
)

// nonceSet remembers accepted (signer, nonce) pairs until the envelope that
// carried them expires, after which the envelope is refused anyway.
type nonceSet struct {
	mu      sync.Mutex
	seen    map[nonceKey]time.Time // expiry
	lastGC  time.Time
	gcEvery time.Duration
}

type nonceKey struct {
	signer address.Address
	nonce  string
}

func newNonceSet(gcEvery time.Duration) *nonceSet {
	return &nonceSet{
		seen:    make(map[nonceKey]time.Time),
		gcEvery: gcEvery,
	}
}

// accept records the pair and reports whether it was new.
func (s *nonceSet) accept(signer address.Address, nonce string, expires, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastGC) >= s.gcEvery {
		for k, exp := range s.seen {
			if now.After(exp) {
				delete(s.seen, k)
			}
		}
		s.lastGC = now
	}

	key := nonceKey{signer: signer, nonce: nonce}
	if exp, ok := s.seen[key]; ok && !now.After(exp) {
		return false
	}
	s.seen[key] = expires
	return true
}

func (s *nonceSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
