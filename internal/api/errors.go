package api

import (
	"errors"
	"log/slog"
	"net/http"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// errBadRequest marks malformed requests rejected before reaching the ledger.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind,omitempty"`
}

// statusFor maps a ledger error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInitialized),
		errors.Is(err, domain.ErrTokenAccountNotInitialized),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}

	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindBalance, domain.KindState:
		return http.StatusConflict
	case domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	case domain.KindExternal:
		return http.StatusBadGateway
	case domain.KindInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if kind := domain.KindOf(err); kind != domain.KindUnknown {
		resp.Kind = kind
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, slog.String("error", err.Error()))
	}
	writeJSON(w, status, resp)
}
