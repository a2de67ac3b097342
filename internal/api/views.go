package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/ledger"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type statusResponse struct {
	StartedAt     time.Time           `json:"started_at"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Addresses     ledger.Addresses    `json:"addresses"`
	Audit         *ledger.AuditReport `json:"audit,omitempty"`
	Balanced      bool                `json:"balanced"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		StartedAt:     s.startedAt.UTC(),
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
		Addresses:     s.engine.Addresses(),
	}

	report, err := s.engine.Audit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.Audit = report
	resp.Balanced = report.Balanced()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVaultStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GetVaultStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultStatsJSON{
		TotalDeposited: stats.TotalDeposited,
		VaultBalance:   stats.VaultBalance,
		Balanced:       stats.Balanced(),
	})
}

func (s *Server) handleTokenCustody(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetTokenCustody(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenCustodyJSON(c))
}

func (s *Server) handleSwapState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetSwapState(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapStateJSON(st))
}

func (s *Server) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	bal, err := s.engine.GetUserBalance(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{
		Owner:          owner,
		CurrentBalance: bal,
		Formatted:      domain.FormatAmount(bal, domain.NativeDecimals),
	})
}

func (s *Server) handleUserTokens(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.engine.GetUserTokenBalance(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenBalanceJSON(b))
}

func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, maxActivityLimit)
	}

	acts, err := s.engine.Activity(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]activityJSON, 0, len(acts))
	for _, a := range acts {
		out = append(out, newActivityJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func ownerParam(r *http.Request) (address.Address, error) {
	owner, err := address.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		return address.Zero, fmt.Errorf("%w: owner: %v", errBadRequest, err)
	}
	return owner, nil
}
