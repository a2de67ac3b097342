// Package main runs the custody ledger daemon: HTTP API over the ledger
// engine, backed by memory or PostgreSQL + ClickHouse storage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"custody-ledger/internal/address"
	"custody-ledger/internal/api"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/exchange/jsonrpc"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/logging"
	"custody-ledger/internal/storage"
	chstore "custody-ledger/internal/storage/clickhouse"
	"custody-ledger/internal/storage/memory"
	"custody-ledger/internal/storage/migrations"
	pgstore "custody-ledger/internal/storage/postgres"
)

const auditInterval = 30 * time.Second

// stores holds the ledger's storage backends.
type stores struct {
	ledger  storage.Store
	journal storage.ActivityJournal
	pool    *pgstore.Pool // nil in memory mode
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to YAML config file")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	enableAirdrop := flag.Bool("enable-airdrop", false, "Expose POST /v1/airdrop (test deployments only)")
	flag.Parse()

	// Startup errors before the structured logger exists.
	bootLogger := log.New(os.Stderr, "[ledgerd] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatalf("Failed to load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if *enableAirdrop {
		cfg.HTTP.EnableAirdrop = true
	}

	logger, closer := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	exit := exitFunc(closer, os.Exit)

	if err := run(cfg, logger, exit); err != nil {
		logger.Error("ledgerd stopped", "error", err)
		exit(1)
	}
	logger.Info("shutdown complete")
	exit(0)
}

// exitFunc returns an exit that closes the log file once before calling
// osExit, since os.Exit skips deferred calls.
func exitFunc(closer io.Closer, osExit func(int)) func(int) {
	closeLog := sync.OnceValue(closer.Close)
	return func(code int) {
		_ = closeLog()
		osExit(code)
	}
}

func run(cfg *config.Config, logger *slog.Logger, exit func(int)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	ex, err := createExchange(cfg)
	if err != nil {
		return fmt.Errorf("create exchange: %w", err)
	}

	programID, _ := cfg.ProgramID()
	engine, err := ledger.New(ledger.Options{
		Store:     st.ledger,
		Exchange:  ex,
		Journal:   st.journal,
		ProgramID: programID,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	admin, _ := cfg.BootstrapAdmin()
	if err := bootstrap(ctx, engine, admin, logger); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(api.Config{
			Engine:        engine,
			Logger:        logger,
			EnableAirdrop: cfg.HTTP.EnableAirdrop,
			NonceTTL:      cfg.HTTP.NonceTTL,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", "signal", sig.String())
			exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			exit(1)
		case <-done:
		}
	}()

	go runAuditLoop(ctx, engine, st.pool, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTP.Addr, "program_id", programID.String())
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// createStores opens the configured backends, applying migrations when
// enabled.
func createStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		logger.Warn("using in-memory storage; state is lost on exit")
		return &stores{
			ledger:  memory.NewLedgerStore(),
			journal: memory.NewActivityJournal(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, cfg.Storage.PostgresMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Storage.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	// ClickHouse
	var chConn *chstore.Conn
	if cfg.Storage.Migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return &stores{
		ledger:  pgstore.NewLedgerStore(pool),
		journal: chstore.NewActivityJournal(chConn),
		pool:    pool,
	}, cleanup, nil
}

func createExchange(cfg *config.Config) (exchange.Exchange, error) {
	switch cfg.Exchange.Kind {
	case config.ExchangeJSONRPC:
		return jsonrpc.NewClient(cfg.Exchange.Endpoint,
			jsonrpc.WithTimeout(cfg.Exchange.Timeout),
			jsonrpc.WithMaxRetries(cfg.Exchange.MaxRetries),
		), nil
	case config.ExchangeFixed:
		num, den, err := cfg.FixedRate()
		if err != nil {
			return nil, err
		}
		fr := exchange.NewFixedRate(num, den)
		fr.FeeBps = cfg.Exchange.Fixed.FeeBps
		fr.MaxOut = cfg.Exchange.Fixed.MaxOut
		return fr, nil
	default:
		return nil, fmt.Errorf("unknown exchange kind %q", cfg.Exchange.Kind)
	}
}

// bootstrap initializes the global ledger and token custody for admin when
// configured. Already-initialized records are left alone.
func bootstrap(ctx context.Context, engine *ledger.Engine, admin address.Address, logger *slog.Logger) error {
	if admin.IsZero() {
		return nil
	}
	caller := auth.Bootstrap(admin)

	if _, err := engine.InitializeLedger(ctx, caller, admin); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
		return err
	}
	if _, err := engine.InitializeTokenCustody(ctx, caller); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
		return err
	}
	logger.Info("ledger bootstrapped", "administrator", admin.String())
	return nil
}

// runAuditLoop periodically checks custody invariants and publishes pool
// statistics until ctx is cancelled.
func runAuditLoop(ctx context.Context, engine *ledger.Engine, pool *pgstore.Pool, logger *slog.Logger) {
	ticker := time.NewTicker(auditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool != nil {
				pool.ReportStats()
			}
			if _, err := engine.Audit(ctx); err != nil && !errors.Is(err, domain.ErrNotInitialized) {
				logger.Warn("custody audit failed", "error", err)
			}
		}
	}
}
