// Package api exposes the ledger over HTTP: read-only views and a single
// endpoint accepting signed operation envelopes.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine *ledger.Engine
	Logger *slog.Logger
	// EnableAirdrop exposes POST /v1/airdrop for funding test accounts.
	EnableAirdrop bool
	// NonceTTL bounds how far in the future an envelope may expire.
	NonceTTL time.Duration
	Now      func() time.Time
}

// Server serves the ledger HTTP API.
type Server struct {
	engine        *ledger.Engine
	logger        *slog.Logger
	enableAirdrop bool
	nonceTTL      time.Duration
	now           func() time.Time
	nonces        *nonceSet
	startedAt     time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine:        cfg.Engine,
		logger:        cfg.Logger.With("component", "api"),
		enableAirdrop: cfg.EnableAirdrop,
		nonceTTL:      cfg.NonceTTL,
		now:           cfg.Now,
		nonces:        newNonceSet(time.Minute),
		startedAt:     cfg.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())
	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/vault/stats", s.handleVaultStats)
		v1.Get("/token-custody", s.handleTokenCustody)
		v1.Get("/swap-state", s.handleSwapState)

		v1.Route("/users/{owner}", func(u chi.Router) {
			u.Get("/balance", s.handleUserBalance)
			u.Get("/tokens", s.handleUserTokens)
			u.Get("/activity", s.handleUserActivity)
		})

		v1.Post("/operations", s.handleOperation)
		if s.enableAirdrop {
			v1.Post("/airdrop", s.handleAirdrop)
		}
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
