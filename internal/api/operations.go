package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"custody-ledger/internal/address"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
)

const maxBodyBytes = 64 << 10

// handleOperation verifies a signed envelope and dispatches it to the engine.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var env auth.Envelope
	if err := decodeBody(r, &env); err != nil {
		observability.RecordEnvelopeRejected("malformed")
		s.writeError(w, r, err)
		return
	}

	caller, err := auth.Verify(&env)
	if err != nil {
		observability.RecordEnvelopeRejected("signature")
		s.writeError(w, r, err)
		return
	}

	op, err := env.Decode()
	if err != nil {
		observability.RecordEnvelopeRejected("payload")
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	now := s.now()
	if err := s.checkFreshness(op, now); err != nil {
		observability.RecordEnvelopeRejected("expired")
		s.writeError(w, r, err)
		return
	}
	if !s.nonces.accept(caller.Address(), op.Nonce, time.Unix(op.ExpiresAt, 0), now) {
		observability.RecordEnvelopeRejected("replay")
		s.writeError(w, r, fmt.Errorf("%w: nonce %q already used", domain.ErrUnauthorized, op.Nonce))
		return
	}

	resp, err := s.dispatch(r.Context(), caller, op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkFreshness requires an expiry no further out than the nonce TTL, so
// every accepted nonce can be forgotten once its envelope has expired.
func (s *Server) checkFreshness(op *auth.Operation, now time.Time) error {
	if op.ExpiresAt == 0 {
		return fmt.Errorf("%w: expires_at is required", errBadRequest)
	}
	if op.Expired(now) {
		return fmt.Errorf("%w: envelope expired", domain.ErrUnauthorized)
	}
	if time.Unix(op.ExpiresAt, 0).After(now.Add(s.nonceTTL)) {
		return fmt.Errorf("%w: expires_at more than %s ahead", errBadRequest, s.nonceTTL)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, caller auth.Caller, op *auth.Operation) (*operationResponse, error) {
	resp := &operationResponse{Op: op.Op}
	owner := op.Owner
	if owner.IsZero() {
		owner = caller.Address()
	}

	switch op.Op {
	case domain.OpInitializeLedger:
		l, err := s.engine.InitializeLedger(ctx, caller, owner)
		if err != nil {
			return nil, err
		}
		resp.Ledger = &globalLedgerJSON{Administrator: l.Administrator, TotalDeposited: l.TotalDeposited}

	case domain.OpInitializeUserLedger:
		e, err := s.engine.InitializeUserLedger(ctx, caller)
		if err != nil {
			return nil, err
		}
		resp.UserLedger = newUserLedgerJSON(e)

	case domain.OpDeposit:
		e, err := s.engine.Deposit(ctx, caller, op.Amount)
		if err != nil {
			return nil, err
		}
		resp.UserLedger = newUserLedgerJSON(e)

	case domain.OpWithdraw:
		e, err := s.engine.Withdraw(ctx, caller, owner, op.Amount, op.Recipient)
		if err != nil {
			return nil, err
		}
		resp.UserLedger = newUserLedgerJSON(e)

	case domain.OpInitializeTokenCustody:
		c, err := s.engine.InitializeTokenCustody(ctx, caller)
		if err != nil {
			return nil, err
		}
		resp.TokenCustody = newTokenCustodyJSON(c)

	case domain.OpInitializeUserTokenBalance:
		b, err := s.engine.InitializeUserTokenBalance(ctx, caller)
		if err != nil {
			return nil, err
		}
		resp.TokenBalance = newTokenBalanceJSON(b)

	case domain.OpWrap:
		b, err := s.engine.Wrap(ctx, caller, op.Amount)
		if err != nil {
			return nil, err
		}
		resp.TokenBalance = newTokenBalanceJSON(b)

	case domain.OpUnwrap:
		e, err := s.engine.Unwrap(ctx, caller, op.Amount)
		if err != nil {
			return nil, err
		}
		resp.UserLedger = newUserLedgerJSON(e)

	case domain.OpUserSwap:
		res, err := s.engine.UserSwap(ctx, caller, owner, op.Amount, op.MinimumOut)
		if err != nil {
			return nil, err
		}
		resp.Swap = newSwapResultJSON(res)

	case domain.OpUserSwapReverse:
		res, err := s.engine.UserSwapReverse(ctx, caller, owner, op.Amount, op.MinimumOut)
		if err != nil {
			return nil, err
		}
		resp.Swap = newSwapResultJSON(res)

	case domain.OpWithdrawSecondAsset:
		b, err := s.engine.WithdrawSecondAsset(ctx, caller, owner, op.Amount, op.Recipient)
		if err != nil {
			return nil, err
		}
		resp.TokenBalance = newTokenBalanceJSON(b)

	default:
		return nil, fmt.Errorf("%w: unsupported op %q", errBadRequest, op.Op)
	}

	return resp, nil
}

type airdropRequest struct {
	To     address.Address `json:"to"`
	Amount uint64          `json:"amount"`
}

// handleAirdrop credits native value to an external account. Test
// deployments only.
func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	var req airdropRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.Airdrop(r.Context(), req.To, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}

	bal, err := s.engine.Balance(r.Context(), req.To, domain.AssetNative)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": req.To, "balance": bal})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
